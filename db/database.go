package db

import (
	"context"
	"errors"
	"fmt"

	"Choirbook/core/auth"
	"Choirbook/logger"
	"Choirbook/model"
	"Choirbook/repository"
)

// SeedAdmin holds the credentials for the initial superuser.
type SeedAdmin struct {
	Username string
	Email    string
	Password string
}

// EnsureAdminUser creates the initial superuser (active, staff) when it does not exist yet.
// It returns the stored user and whether it was created by this call.
func EnsureAdminUser(ctx context.Context, users repository.UserRepository, seed SeedAdmin) (*model.User, bool, error) {
	if seed.Username == "" || seed.Password == "" {
		return nil, false, fmt.Errorf("admin username and password are required")
	}

	existing, err := users.GetUserByUsername(ctx, seed.Username)
	if err == nil {
		logger.Info("[Migrate] 管理员已存在，跳过创建", logger.String("username", seed.Username))
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check for existing admin %q: %w", seed.Username, err)
	}

	hash, err := auth.HashPassword(seed.Password)
	if err != nil {
		return nil, false, fmt.Errorf("failed to hash password for initial admin: %w", err)
	}

	email := seed.Email
	if email == "" {
		email = seed.Username + "@localhost"
	}
	admin := &model.User{
		Username:     seed.Username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsStaff:      true,
		IsSuperuser:  true,
	}
	if err := users.CreateUser(ctx, admin); err != nil {
		return nil, false, fmt.Errorf("failed to insert initial admin %q: %w", seed.Username, err)
	}
	logger.Info("[Migrate] 初始管理员已创建", logger.String("username", admin.Username), logger.Int64("id", admin.ID))
	return admin, true, nil
}
