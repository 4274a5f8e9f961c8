package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// withColor forces ColorEnabled for the duration of a test.
func withColor(t *testing.T, enabled bool) {
	t.Helper()
	orig := ColorEnabled
	ColorEnabled = enabled
	t.Cleanup(func() { ColorEnabled = orig })
}

func TestPrefixesWithoutColor(t *testing.T) {
	withColor(t, false)

	assert.Equal(t, "✓ done", Success("done"))
	assert.Equal(t, "✗ failed", Error("failed"))
	assert.Equal(t, "⚠ careful", Warn("careful"))
	assert.Equal(t, "plain", Info("plain"))
}

func TestColorizedOutputWrapsWithReset(t *testing.T) {
	withColor(t, true)

	for _, out := range []string{Success("x"), Error("x"), Warn("x"), Info("x")} {
		assert.True(t, strings.HasPrefix(out, "\033["), "expected ANSI prefix in %q", out)
		assert.True(t, strings.HasSuffix(out, reset), "expected reset suffix in %q", out)
	}
}

func TestThemeColorFallback(t *testing.T) {
	orig := currentTheme
	t.Cleanup(func() { currentTheme = orig })

	currentTheme = themes["minimal"]
	assert.Equal(t, fallbackRed, themeColor(RoleError, fallbackRed))

	currentTheme = themes["default"]
	assert.NotEqual(t, fallbackRed, themeColor(RoleError, fallbackRed))
}
