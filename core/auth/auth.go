package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"Choirbook/model"
	"Choirbook/repository"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is deliberately generic: it never says which field was wrong.
var ErrInvalidCredentials = errors.New("invalid username/email or password")

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash compares a password with a bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// UserLookup is the subset of the user repository needed to authenticate.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// Authenticator checks credentials against stored bcrypt hashes.
type Authenticator struct {
	users UserLookup
}

// NewAuthenticator 创建认证器
func NewAuthenticator(users UserLookup) *Authenticator {
	return &Authenticator{users: users}
}

// dummyHash keeps the timing of unknown-user logins close to wrong-password logins.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("choirbook-dummy"), bcrypt.DefaultCost)

// Authenticate 支持用户名或邮箱登录。含 @ 的标识先按邮箱查找，找不到再按用户名。
// 账号是否已审批不在这里判断。
func (a *Authenticator) Authenticate(ctx context.Context, identifier, password string) (*model.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user *model.User
	var err error
	if strings.Contains(identifier, "@") {
		user, err = a.users.GetUserByEmail(ctx, identifier)
		// 用户名同样允许包含 @
		if errors.Is(err, repository.ErrNotFound) {
			user, err = a.users.GetUserByUsername(ctx, identifier)
		}
	} else {
		user, err = a.users.GetUserByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
