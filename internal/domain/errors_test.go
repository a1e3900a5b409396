package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeUnwrapsSentinels(t *testing.T) {
	assert.Equal(t, "no_active_session", Code(fmt.Errorf("play: %w", ErrNoActiveSession)))
	assert.Equal(t, "malformed_message", Code(fmt.Errorf("%w: bad json", ErrMalformedMessage)))
	assert.Equal(t, "unsupported", Code(ErrUnsupported))
	assert.Equal(t, "internal_error", Code(errors.New("boom")))
}

func TestCredentialsComplete(t *testing.T) {
	c := Credentials{UserID: "U1"}
	assert.False(t, c.Complete())
	assert.Equal(t, []string{"token", "endpoint", "sessionId"}, c.Missing())

	c.Token, c.Endpoint = "T", "E"
	assert.False(t, c.Complete())
	c.SessionID = "S"
	assert.True(t, c.Complete())
	assert.Empty(t, c.Missing())
}
