package job

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentDeterministic(t *testing.T) {
	t.Parallel()

	a, _, err := NewIdent("https://example.com/some/page")
	require.NoError(t, err)
	b, _, err := NewIdent("https://example.com/some/page")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, _, err := NewIdent("https://example.com/other/page")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestNewIdentCollapsesEquivalentURLs(t *testing.T) {
	t.Parallel()

	variants := []string{
		"https://Example.COM/page",
		"https://example.com:443/page",
		"HTTPS://example.com/page#section",
	}
	base, _, err := NewIdent("https://example.com/page")
	require.NoError(t, err)
	for _, v := range variants {
		got, _, err := NewIdent(v)
		require.NoError(t, err)
		assert.Equal(t, base, got, "variant %q", v)
	}
}

func TestNewIdentIsBase36(t *testing.T) {
	t.Parallel()

	ident, _, err := NewIdent("https://example.com/")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-z]+$`), ident.String())
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.com", "https://example.com/"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"http://example.com:8080/a", "http://example.com:8080/a"},
		{"https://example.com/a#frag", "https://example.com/a"},
		{"https://example.com/a?q=1", "https://example.com/a?q=1"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "example.com", "/just/a/path", "%%%"} {
		if _, err := NormalizeURL(in); err == nil {
			t.Errorf("NormalizeURL(%q) expected error", in)
		}
	}
}

func TestIdentKeys(t *testing.T) {
	t.Parallel()

	i := Ident("abc123")
	assert.Equal(t, "abc123_log", i.LogKey())
	assert.Equal(t, "abc123_ignores", i.IgnoreSetKey())
}
