// Package config loads app settings from env and ./.env with per-binary defaults
package config

import (
	"log"
	"time"

	wbfconfig "github.com/wb-go/wbf/config"
)

// Defaults - значения по умолчанию для ключей, которые не заданы в окружении
type Defaults map[string]any

// Load - инициализировать конфиг/ считать энвы и зарегистрировать дефолты
func Load(defaults ...Defaults) *wbfconfig.Config {
	cfg := wbfconfig.New()
	cfg.EnableEnv("")
	if err := cfg.LoadEnvFiles("./.env"); err != nil {
		log.Printf("Failed to load env file: %v. Using process env only...", err)
	}
	for _, set := range defaults {
		for key, value := range set {
			cfg.SetDefault(key, value)
		}
	}
	return cfg
}

// Getter - the part of the wbf config the app relies on
type Getter interface {
	GetString(key string) string
	GetInt(key string) int
	GetInt64(key string) int64
	GetDuration(key string) time.Duration
}

// Required - fatal on missing key, used for credentials and endpoints
func Required(cfg Getter, key string) string {
	v := cfg.GetString(key)
	if v == "" {
		log.Fatalf("Required env %s is empty. Exiting app...", key)
	}
	return v
}
