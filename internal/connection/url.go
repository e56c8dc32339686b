package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL picks the stream endpoint. Precedence: explicit, then envValue,
// then origin with path appended. http and https origins map to ws and wss.
func ResolveURL(explicit, envValue, origin, path string) (string, error) {
	if s := strings.TrimSpace(explicit); s != "" {
		return s, nil
	}
	if s := strings.TrimSpace(envValue); s != "" {
		return s, nil
	}
	if strings.TrimSpace(origin) == "" {
		return "", ErrNoEndpoint
	}

	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}

	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}
