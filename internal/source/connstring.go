package source

import (
	"fmt"
	"net/url"
	"strings"
)

// ServerName extracts the host from a URL-style connection string so
// connections can be logged without leaking credentials.
func ServerName(connectionString string) (string, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	host := u.Host
	if host == "" {
		return "", fmt.Errorf("server name not found in connection string")
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host), nil
}
