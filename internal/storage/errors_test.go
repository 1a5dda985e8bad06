package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/sentinel"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code dErrors.Code
	}{
		{"not found", sentinel.ErrNotFound, dErrors.CodeNotFound},
		{"wrapped conflict", fmt.Errorf("insert: %w", sentinel.ErrConflict), dErrors.CodeConflict},
		{"unavailable", sentinel.ErrUnavailable, dErrors.CodeUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), dErrors.CodeTimeout},
		{"coded passes through", dErrors.New(dErrors.CodeForbidden, "no"), dErrors.CodeForbidden},
		{"unknown", errors.New("disk on fire"), dErrors.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, dErrors.CodeOf(Translate(tt.err, "op failed")))
		})
	}
	assert.NoError(t, Translate(nil, "unused"))
}
