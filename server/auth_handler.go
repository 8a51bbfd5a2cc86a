package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"Choirbook/core/auth"
	"Choirbook/core/gate"
	"Choirbook/core/mail"
	"Choirbook/logger"
	"Choirbook/model"
	"Choirbook/repository"
)

// 页面提示文案
const (
	msgInvalidCredentials = "Invalid username/email or password."
	msgPendingApproval    = "Your account is awaiting approval by an administrator. You will be able to log in once it has been activated."
	msgRegistered         = "Thanks for registering! An administrator will review and activate your account."
	msgAccountDeleted     = "Your account has been deleted."
	msgLoggedOut          = "You have been logged out."
)

// LoginHandler GET 显示登录表单，POST 提交用户名或邮箱和密码
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	if r.Method == http.MethodGet {
		next := r.URL.Query().Get("next")
		if gate.Allows(id.State) {
			http.Redirect(w, r, safeNext(next), http.StatusFound)
			return
		}
		data := newPage(r)
		data.Next = next
		switch {
		case r.URL.Query().Has("registered"):
			data.Flash = msgRegistered
		case r.URL.Query().Has("deleted"):
			data.Flash = msgAccountDeleted
		case r.URL.Query().Has("logged_out"):
			data.Flash = msgLoggedOut
		}
		if id.State == gate.PendingApproval {
			data.Message = msgPendingApproval
		}
		h.renderPage(w, r, http.StatusOK, "login", data)
		return
	}

	var form loginForm
	echo, err := bindForm(r, &form)
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "The form could not be read.")
		return
	}
	data := newPage(r)
	data.Form = echo
	data.Next = form.Next

	if verr := h.validateForm(&form); verr != nil {
		data.Errors = *verr
		h.renderPage(w, r, http.StatusBadRequest, "login", data)
		return
	}

	result, err := h.gate.Login(r.Context(), form.Username, form.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			logger.Warn("[Login] 凭据无效", logger.String("identifier", form.Username))
			data.Errors.AddForm(msgInvalidCredentials)
			h.renderPage(w, r, http.StatusUnauthorized, "login", data)
			return
		}
		h.serverError(w, r, "[Login]", err)
		return
	}

	if result.State == gate.PendingApproval {
		data.Message = msgPendingApproval
		h.renderPage(w, r, http.StatusForbidden, "login", data)
		return
	}

	h.setSessionCookie(w, result.Token)
	http.Redirect(w, r, safeNext(form.Next), http.StatusSeeOther)
}

// LogoutHandler 结束当前会话，未登录时同样返回登录页
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Logout(r.Context(), sessionToken(r)); err != nil {
		logger.Warn("[Logout] 删除会话失败", logger.ErrorField(err))
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/login?logged_out=1", http.StatusSeeOther)
}

// RegisterHandler creates an inactive account. It never logs the new user in.
func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	data := newPage(r)
	if r.Method == http.MethodGet {
		h.renderPage(w, r, http.StatusOK, "register", data)
		return
	}

	var form registerForm
	echo, err := bindForm(r, &form)
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "The form could not be read.")
		return
	}
	data.Form = echo

	user, err := h.register(r.Context(), form)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			data.Errors = *verr
			h.renderPage(w, r, http.StatusBadRequest, "register", data)
			return
		}
		h.serverError(w, r, "[Register]", err)
		return
	}

	h.notifyAdmin(r.Context(), user)
	http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
}

func (h *Handler) register(ctx context.Context, form registerForm) (*model.User, error) {
	verr := h.validateForm(&form)
	if verr == nil {
		verr = &ValidationError{}
	}
	if form.Password != "" && form.PasswordConfirm != "" && form.Password != form.PasswordConfirm {
		verr.Add("password_confirm", "Passwords do not match.")
	}

	if len(verr.Field("username")) == 0 {
		if taken, err := userExists(ctx, h.users.GetUserByUsername, form.Username); err != nil {
			return nil, err
		} else if taken {
			verr.Add("username", "A user with that username already exists.")
		}
	}
	if len(verr.Field("email")) == 0 {
		if taken, err := userExists(ctx, h.users.GetUserByEmail, form.Email); err != nil {
			return nil, err
		} else if taken {
			verr.Add("email", "A user with that email already exists.")
		}
	}
	if !verr.Empty() {
		return nil, verr
	}

	hash, err := auth.HashPassword(form.Password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: hash,
		IsActive:     false,
	}
	if err := h.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			// 并发注册时唯一约束兜底
			verr.AddForm("A user with that username or email already exists.")
			return nil, verr
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	logger.Info("[Register] 新用户待审批", logger.String("username", user.Username), logger.Int64("id", user.ID))
	return user, nil
}

func userExists(ctx context.Context, lookup func(context.Context, string) (*model.User, error), key string) (bool, error) {
	_, err := lookup(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// notifyAdmin tells the administrator a new account is waiting. Failures are only logged.
func (h *Handler) notifyAdmin(ctx context.Context, user *model.User) {
	if h.cfg.AdminEmail == "" {
		return
	}
	msg := mail.Message{
		To:      []string{h.cfg.AdminEmail},
		Subject: "New Choirbook registration: " + user.Username,
		Text: fmt.Sprintf("%s (%s) registered and is waiting for approval.\n\nApprove with: choirbook user approve %s\n",
			user.Username, user.Email, user.Username),
	}
	if err := h.mailer.Send(ctx, msg); err != nil {
		logger.Warn("[Register] 管理员通知邮件发送失败", logger.String("username", user.Username), logger.ErrorField(err))
	}
}

// DeleteAccountConfirmHandler shows the confirmation page.
func (h *Handler) DeleteAccountConfirmHandler(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, "delete_account", newPage(r))
}

// DeleteAccountHandler removes the current user and ends all of their sessions.
func (h *Handler) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	if err := h.users.DeleteUser(r.Context(), user.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.serverError(w, r, "[DeleteAccount]", err)
		return
	}
	if err := h.gate.EndAllSessions(r.Context(), user.ID); err != nil {
		// 用户已删除，残留会话在解析时也会落到 Anonymous
		logger.Warn("[DeleteAccount] 清理会话失败", logger.Int64("userID", user.ID), logger.ErrorField(err))
	}
	logger.Info("[DeleteAccount] 账号已删除", logger.String("username", user.Username), logger.Int64("id", user.ID))

	h.clearSessionCookie(w)
	http.Redirect(w, r, "/login?deleted=1", http.StatusSeeOther)
}
