package repository

import (
	"context"
	"strings"

	"volleystat/internal/domain/user"
	volley_errors "volleystat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	res := r.db.WithContext(ctx).Create(u)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return volley_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	var u user.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return user.User{}, notFound(err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		return user.User{}, notFound(err)
	}
	return u, nil
}
