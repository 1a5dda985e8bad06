package pii

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "passgate/pkg/domain-errors"
)

func newGuard(t *testing.T, opts ...Option) *Guard {
	t.Helper()
	g, err := New("test-secret", opts...)
	require.NoError(t, err)
	return g
}

func TestProtectRevealRoundTrip(t *testing.T) {
	g := newGuard(t)
	ctx := context.Background()

	for _, plain := range []string{"ada@example.com", "+44 20 7946 0958", "ünïcødé"} {
		sealed, err := g.Protect(plain)
		require.NoError(t, err)
		assert.True(t, IsProtected(sealed))
		assert.NotContains(t, sealed, plain)

		revealed, err := g.Reveal(ctx, sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, revealed)
	}
}

func TestProtectUsesFreshNonce(t *testing.T) {
	g := newGuard(t)
	a, err := g.Protect("same")
	require.NoError(t, err)
	b, err := g.Protect("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEmptyPassesThrough(t *testing.T) {
	g := newGuard(t, WithPolicy(Strict))
	sealed, err := g.Protect("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	revealed, err := g.Reveal(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, revealed)
}

func TestRevealFailurePolicies(t *testing.T) {
	other, err := New("another-secret")
	require.NoError(t, err)
	foreign, err := other.Protect("ada@example.com")
	require.NoError(t, err)

	corrupted := foreign[:len(foreign)-4] + "AAAA"

	cases := map[string]string{
		"wrong key":     foreign,
		"tampered":      corrupted,
		"not encrypted": "ada@example.com",
		"bad base64":    prefix + "!!!",
		"truncated":     prefix + "AAAA",
	}

	for name, stored := range cases {
		t.Run(name+" soft fail", func(t *testing.T) {
			g := newGuard(t)
			revealed, err := g.Reveal(context.Background(), stored)
			require.NoError(t, err)
			assert.Equal(t, stored, revealed)
		})
		t.Run(name+" strict", func(t *testing.T) {
			g := newGuard(t, WithPolicy(Strict))
			_, err := g.Reveal(context.Background(), stored)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeEncryptionFailure))
		})
	}
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "a***@example.com", MaskEmail("ada@example.com"))
	assert.Equal(t, "***", MaskEmail("no-at-sign"))
	assert.Empty(t, MaskEmail(""))
	assert.Equal(t, "***58", MaskPhone("+44 20 7946 0958"))
	assert.Equal(t, "***", MaskPhone("12"))
	assert.False(t, strings.Contains(MaskPhone("5551234"), "5551"))
}
