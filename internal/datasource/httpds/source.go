package httpds

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"

	"delimconv/internal/datasource"
)

// Source is a remote file fetched with GET.
type Source struct {
	client *Client
	url    string
}

var _ datasource.Source = (*Source)(nil)

// NewSource binds rawURL to c.
func NewSource(c *Client, rawURL string) *Source { return &Source{client: c, url: rawURL} }

// Open issues the request and returns the response body.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// IsURL reports whether s names an http or https resource.
func IsURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

var unsafeRun = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileName derives a local file name for rawURL: the last path segment when
// there is one, otherwise the cleaned query string, otherwise a hash of the
// whole URL. The result never contains a path separator.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return hashName(rawURL)
	}
	if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
		if name := strings.Trim(unsafeRun.ReplaceAllString(base, "_"), "_"); name != "" && strings.Trim(name, ".") != "" {
			return name
		}
	}
	if q := strings.Trim(unsafeRun.ReplaceAllString(u.RawQuery, "_"), "_."); q != "" {
		return q
	}
	return hashName(rawURL)
}

func hashName(s string) string {
	return fmt.Sprintf("url-%016x", xxh3.HashString(s))
}
