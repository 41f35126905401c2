package ratelimit

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilClientAllowsEverything(t *testing.T) {
	l := New(nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	rule := Rule{Prefix: "auth", Limit: 3, Window: time.Minute}

	for i := 0; i < 10; i++ {
		res := l.Allow(context.Background(), rule, "alice")
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Remaining)
	}
}

func TestFormatHeaders(t *testing.T) {
	res := Result{
		Allowed:   false,
		Limit:     10,
		Remaining: 0,
		ResetAt:   time.Unix(1700000000, 0),
	}
	h := res.FormatHeaders()
	assert.Equal(t, "10", h["X-RateLimit-Limit"])
	assert.Equal(t, "0", h["X-RateLimit-Remaining"])
	assert.Equal(t, "1700000000", h["X-RateLimit-Reset"])
}
