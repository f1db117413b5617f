package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	t.Run("Should return the injected logger instance when present", func(t *testing.T) {
		t.Parallel()

		injected := slog.New(slog.NewJSONHandler(io.Discard, nil))
		ctx := WithContext(context.Background(), injected)

		assert.Same(t, injected, FromContext(ctx))
	})

	t.Run("Should fall back to the global default on an empty context", func(t *testing.T) {
		t.Parallel()

		assert.Same(t, slog.Default(), FromContext(context.Background()))
	})
}
