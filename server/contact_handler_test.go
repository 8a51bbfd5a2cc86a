package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"Choirbook/core/mail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contactValues(name, email, message string) url.Values {
	return url.Values{"name": {name}, "email": {email}, "message": {message}}
}

func TestContactSendsMail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post("/contact", contactValues("Jo", "jo@example.com", "Can I join the tenors?"), nil)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/contact?sent=1", rec.Header().Get("Location"))

	sent := env.mailer.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"director@example.com"}, sent[0].To)
	assert.Equal(t, "jo@example.com", sent[0].ReplyTo)
	assert.Equal(t, "Contact form: Jo", sent[0].Subject)
	assert.Contains(t, sent[0].Text, "Can I join the tenors?")

	rec = env.get("/contact?sent=1", nil)
	assert.Contains(t, rec.Body.String(), msgContactSent)
}

func TestContactFallsBackToAdminEmail(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ContactRecipient = ""

	rec := env.post("/contact", contactValues("Jo", "jo@example.com", "hi"), nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, []string{"admin@example.com"}, env.mailer.messages()[0].To)
}

func TestContactValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		form url.Values
		msg  string
	}{
		{"name too long", contactValues(strings.Repeat("n", 101), "jo@example.com", "hi"), "at most 100 characters"},
		{"bad email", contactValues("Jo", "jo-at-example", "hi"), "Enter a valid email address."},
		{"empty message", contactValues("Jo", "jo@example.com", "   "), "This field is required."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.post("/contact", tt.form, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.msg)
		})
	}
	assert.Empty(t, env.mailer.messages())

	// 100 个字符恰好合法
	rec := env.post("/contact", contactValues(strings.Repeat("n", 100), "jo@example.com", "hi"), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestContactDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = &mail.DeliveryError{Err: errors.New("421 service not available")}

	rec := env.post("/contact", contactValues("Jo", "jo@example.com", "hi"), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not be sent")
}

func TestContactPrefillsActiveUser(t *testing.T) {
	env := newTestEnv(t)
	c := activeSession(t, env)

	rec := env.get("/contact", c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="alice@example.com"`)
}

func TestPublicPages(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/useful-links", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Useful links")

	rec = env.get("/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.get("/no-such-page", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page not found.")

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodDelete, "/contact", nil, nil).Code)
}
