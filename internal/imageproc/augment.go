// Package imageproc provides the augmentation transform: random rotation followed by sharpening.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // регистрируем декодер webp для image.Decode
)

const (
	sharpenSigma = 1.0
	jpegQuality  = 90
)

// RandomAngle - uniform angle in [0, 360)
func RandomAngle() float64 {
	return math.Mod(rand.Float64()*360, 360)
}

// VariantName - deterministic name of the index-th variant of the original file
func VariantName(index int, original string) string {
	return "augmented_" + strconv.Itoa(index) + "_" + original
}

// Augment reads src, rotates it by angle degrees, sharpens it and writes the result to dst.
// Output format follows dst extension, webp is written lossless.
func Augment(src, dst string, angle float64) error {
	if angle < 0 || angle >= 360 {
		return fmt.Errorf("angle %v out of [0, 360)", angle)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to DEcode %q: %w", src, err)
	}

	rotated := imaging.Rotate(img, angle, color.Transparent)
	result := imaging.Sharpen(rotated, sharpenSigma)

	if err := save(result, dst); err != nil {
		return fmt.Errorf("failed to ENcode %q: %w", dst, err)
	}
	return nil
}

func save(img image.Image, dst string) error {
	var buf bytes.Buffer
	if err := encode(&buf, img, dst); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0o644)
}

func encode(buf *bytes.Buffer, img image.Image, dst string) error {
	// imaging не умеет кодировать webp
	if strings.EqualFold(filepath.Ext(dst), ".webp") {
		return nativewebp.Encode(buf, img, nil)
	}

	format, err := imaging.FormatFromFilename(dst)
	if err != nil {
		return err
	}
	return imaging.Encode(buf, img, format, imaging.JPEGQuality(jpegQuality))
}
