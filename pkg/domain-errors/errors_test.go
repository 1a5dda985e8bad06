package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outermost coded error", func(t *testing.T) {
		err := fmt.Errorf("context: %w", New(CodeForbidden, "denied"))
		assert.True(t, HasCode(err, CodeForbidden))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})

	t.Run("wrap keeps the cause reachable", func(t *testing.T) {
		cause := errors.New("disk full")
		err := Wrap(cause, CodeInternal, "failed to save")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "failed to save: disk full", err.Error())
		assert.Equal(t, "failed to save", Message(err))
	})
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:        http.StatusBadRequest,
		CodeUnauthorized:      http.StatusUnauthorized,
		CodeForbidden:         http.StatusForbidden,
		CodeNotFound:          http.StatusNotFound,
		CodeConflict:          http.StatusConflict,
		CodeInvalidState:      http.StatusConflict,
		CodeUnavailable:       http.StatusServiceUnavailable,
		CodeEncryptionFailure: http.StatusInternalServerError,
		CodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
