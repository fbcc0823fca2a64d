package upstream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "", Truncate("", 2))

	// "я" is two bytes; never cut it in half
	assert.Equal(t, "a", Truncate("aяb", 2))
	assert.Equal(t, "aя", Truncate("aяb", 3))
}

func TestNewError(t *testing.T) {
	err := NewError("deepseek", 500, strings.Repeat("x", 1000))
	assert.Equal(t, 500, err.Status)
	assert.Len(t, err.Body, MaxErrorBody)
	assert.Contains(t, err.Error(), "deepseek error 500")

	var target *Error
	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, errors.As(wrapped, &target))
}

func TestClientFunc(t *testing.T) {
	var got Request
	c := ClientFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return "ok", nil
	})

	out, err := c.Complete(context.Background(), Request{System: "s", User: "u", MaxTokens: 7})
	assert.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, Request{System: "s", User: "u", MaxTokens: 7}, got)
}
