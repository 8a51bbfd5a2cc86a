// Package gate decides who may see the catalog.
//
// Three states exist: Anonymous, PendingApproval (valid credentials, account
// not yet approved) and Active. Only Active reaches catalog pages. The gate
// never moves a user out of PendingApproval; that is an administrator's job.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Choirbook/cache"
	"Choirbook/core/auth"
	"Choirbook/logger"
	"Choirbook/model"
	"Choirbook/repository"
)

// State is the access state of a request.
type State int

const (
	Anonymous State = iota
	PendingApproval
	Active
)

func (s State) String() string {
	switch s {
	case PendingApproval:
		return "pending_approval"
	case Active:
		return "active"
	default:
		return "anonymous"
	}
}

// Allows reports whether the state may use catalog listing and detail.
func Allows(s State) bool {
	return s == Active
}

// Authenticator verifies credentials; it must return auth.ErrInvalidCredentials
// for both unknown users and wrong passwords.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password string) (*model.User, error)
}

// SessionStore persists established sessions.
type SessionStore interface {
	Create(ctx context.Context, userID int64) (string, error)
	Get(ctx context.Context, sessionID string) (int64, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteUserSessions(ctx context.Context, userID int64) error
}

// Users is the part of the user repository the gate reads and touches.
type Users interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Tokens signs the cookie value that points at a session.
type Tokens interface {
	GenerateToken(sessionID string, userID int64) (string, error)
	ParseToken(raw string) (*auth.SessionClaims, error)
}

// LoginResult is the outcome of a credentials submission.
type LoginResult struct {
	State State
	User  *model.User
	Token string // 仅 Active 时非空
}

// Gate 访问控制状态机
type Gate struct {
	authn    Authenticator
	sessions SessionStore
	users    Users
	tokens   Tokens
	now      func() time.Time
}

// New 创建访问控制
func New(authn Authenticator, sessions SessionStore, users Users, tokens Tokens) *Gate {
	return &Gate{authn: authn, sessions: sessions, users: users, tokens: tokens, now: time.Now}
}

// Login handles Anonymous --credentials--> {Active, PendingApproval, Anonymous}.
// Invalid credentials return auth.ErrInvalidCredentials with State Anonymous.
// An inactive account yields PendingApproval and no session.
func (g *Gate) Login(ctx context.Context, identifier, password string) (LoginResult, error) {
	user, err := g.authn.Authenticate(ctx, identifier, password)
	if err != nil {
		return LoginResult{State: Anonymous}, err
	}

	if !user.IsActive {
		logger.Info("[Login] 账号待审批，未建立会话", logger.String("username", user.Username))
		return LoginResult{State: PendingApproval, User: user}, nil
	}

	sessionID, err := g.sessions.Create(ctx, user.ID)
	if err != nil {
		return LoginResult{State: Anonymous}, fmt.Errorf("failed to establish session: %w", err)
	}
	token, err := g.tokens.GenerateToken(sessionID, user.ID)
	if err != nil {
		_ = g.sessions.Delete(ctx, sessionID)
		return LoginResult{State: Anonymous}, err
	}

	if err := g.users.TouchLastLogin(ctx, user.ID, g.now()); err != nil {
		logger.Warn("[Login] 更新最后登录时间失败", logger.Int64("userID", user.ID), logger.ErrorField(err))
	}
	logger.Info("[Login] 登录成功", logger.String("username", user.Username))
	return LoginResult{State: Active, User: user, Token: token}, nil
}

// Resolve maps a session cookie to the current user and state. Missing,
// invalid or expired tokens, ended sessions and deleted users all resolve to
// Anonymous. A session whose account was deactivated resolves to PendingApproval.
func (g *Gate) Resolve(ctx context.Context, token string) (*model.User, State, error) {
	if token == "" {
		return nil, Anonymous, nil
	}
	claims, err := g.tokens.ParseToken(token)
	if err != nil {
		return nil, Anonymous, nil
	}

	userID, err := g.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, cache.ErrSessionNotFound) {
			return nil, Anonymous, nil
		}
		return nil, Anonymous, err
	}
	if userID != claims.UserID {
		return nil, Anonymous, nil
	}

	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Anonymous, nil
		}
		return nil, Anonymous, err
	}
	if !user.IsActive {
		return user, PendingApproval, nil
	}
	return user, Active, nil
}

// Logout handles Active --logout--> Anonymous. Unknown tokens are ignored.
func (g *Gate) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := g.tokens.ParseToken(token)
	if err != nil {
		return nil
	}
	return g.sessions.Delete(ctx, claims.SessionID)
}

// EndAllSessions ends every session of a user, used when the account is deleted.
func (g *Gate) EndAllSessions(ctx context.Context, userID int64) error {
	return g.sessions.DeleteUserSessions(ctx, userID)
}
