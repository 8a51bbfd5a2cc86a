package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{From: "library@example.com"})

	msg, err := m.Build(Message{
		To:      []string{"director@example.com"},
		ReplyTo: "member@example.com",
		Subject: "Contact form: Jo",
		Text:    "hello",
		HTML:    "<p>hello</p>",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()

	assert.Contains(t, raw, "director@example.com")
	assert.Contains(t, raw, "Reply-To:")
	assert.Contains(t, raw, "member@example.com")
	assert.Contains(t, raw, "Contact form: Jo")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")
}

func TestBuildRejectsBadInput(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{From: "library@example.com"})

	_, err := m.Build(Message{Subject: "x"})
	assert.Error(t, err)

	_, err = m.Build(Message{To: []string{"not an address"}})
	assert.Error(t, err)

	bad := NewSMTPMailer(SMTPConfig{From: "nope"})
	_, err = bad.Build(Message{To: []string{"a@example.com"}})
	assert.Error(t, err)
}

func TestSendFailureIsDeliveryError(t *testing.T) {
	// A listener that is closed immediately gives a port nobody answers on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: port, From: "library@example.com"})
	err = m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "s", Text: "t"})

	require.Error(t, err)
	assert.True(t, IsDeliveryError(err))
}

func TestDeliveryErrorUnwraps(t *testing.T) {
	inner := errors.New("421 try later")
	err := fmt.Errorf("contact: %w", &DeliveryError{Err: inner})
	assert.True(t, IsDeliveryError(err))
	assert.ErrorIs(t, err, inner)
	assert.False(t, IsDeliveryError(inner))
}
