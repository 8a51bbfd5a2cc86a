package server

import (
	"context"
	"testing"

	"Choirbook/core/gate"

	"github.com/stretchr/testify/assert"
)

func TestSafeNext(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "/landing"},
		{"/piece/3", "/piece/3"},
		{"/landing?q=bach&letter=B", "/landing?q=bach&letter=B"},
		{"//evil.example.com", "/landing"},
		{"/\\evil.example.com", "/landing"},
		{"https://evil.example.com", "/landing"},
		{"piece/3", "/landing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safeNext(tt.in), tt.in)
	}
}

func TestIdentityDefaultsToAnonymous(t *testing.T) {
	id := identityFrom(context.Background())
	assert.Equal(t, gate.Anonymous, id.State)
	assert.Nil(t, CurrentUser(context.Background()))
}
