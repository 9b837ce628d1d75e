// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read-only lookups over the users table
// that backs the participant directory.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// FindUsers returns the users whose id is in ids, active or not.
// Unknown ids are simply absent from the result.
func FindUsers(ctx context.Context, db *gorm.DB, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	var out []domain.User
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// FindActiveUsers returns the active users whose id is in ids.
func FindActiveUsers(ctx context.Context, db *gorm.DB, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	var out []domain.User
	err := db.WithContext(ctx).
		Where("id IN ? AND active = ?", ids, true).
		Find(&out).Error
	return out, err
}
