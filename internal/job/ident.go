package job

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// identNamespace is the version namespace hashed together with the
// normalized target URL. Bumping it invalidates every existing ident, so it
// changes only when the normalization rules change incompatibly.
var identNamespace = uuid.MustParse("82244de1-c354-4c89-bf2b-f153ce23af43")

// Ident is the deterministic, content-derived identifier of a job. Two
// requests for equivalent URLs always collide on the same Ident.
type Ident string

// NewIdent normalizes rawURL and derives the job identifier from it. The
// normalized form is returned alongside the ident so callers can persist it.
func NewIdent(rawURL string) (Ident, string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", "", err
	}
	id := uuid.NewSHA1(identNamespace, []byte(normalized))
	n := new(big.Int).SetBytes(id[:])
	return Ident(n.Text(36)), normalized, nil
}

// NormalizeURL standardizes a URL so trivial variants map to the same job.
// It lowercases the scheme and host, strips default ports and fragments, and
// represents an empty path as "/".
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// LogKey names the per-job log in the backing store.
func (i Ident) LogKey() string {
	return string(i) + "_log"
}

// IgnoreSetKey names the per-job ignore-pattern set in the backing store.
func (i Ident) IgnoreSetKey() string {
	return string(i) + "_ignores"
}

func (i Ident) String() string {
	return string(i)
}
