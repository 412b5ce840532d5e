// Package userpostgres reads users owned by the auth-service, the app never writes this table
package userpostgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/wb-go/wbf/dbpg"
)

type PostgresRepo struct {
	DB *dbpg.DB
}

func (p PostgresRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT id, email, is_active FROM users WHERE id = $1`
	var user model.User

	err := p.DB.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Email, &user.IsActive)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrUserNotFound
		default:
			return nil, err
		}
	}
	return &user, nil
}
