// Package cubeurl parses profile addresses of this grammar (spec §6):
//
//	url   = [proto "://"] [host [":" port]] ["/" path]
//	proto = "file" | "cube"   ; default: file
//	port  = digits            ; default: 3300
package cubeurl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultPort is the port assumed when a cube:// URL omits one.
const DefaultPort = 3300

// ErrCubeRequiresHost is returned when a cube:// URL names no host.
var ErrCubeRequiresHost = errors.New("cubeurl: cube:// URLs require a host")

// ErrFileHasHost is returned when a file:// URL carries a host or port.
var ErrFileHasHost = errors.New("cubeurl: file:// URLs must not carry a host")

// URL is a parsed profile address.
type URL struct {
	// Proto is "file" or "cube".
	Proto string
	Host  string
	Port  int
	// Path is the profile path, relative to the report root for cube://,
	// or a local filesystem path for file://.
	Path string
}

// IsRemote reports whether this address names a cube protocol server.
func (u URL) IsRemote() bool { return u.Proto == "cube" }

// String renders u back into grammar form.
func (u URL) String() string {
	var b strings.Builder
	b.WriteString(u.Proto)
	b.WriteString("://")
	if u.Host != "" {
		b.WriteString(u.Host)
		if u.Port != 0 && u.Port != DefaultPort {
			fmt.Fprintf(&b, ":%d", u.Port)
		}
	}
	if u.Path != "" {
		b.WriteString("/")
		b.WriteString(strings.TrimPrefix(u.Path, "/"))
	}
	return b.String()
}

// Parse parses s per the grammar, defaulting proto to "file" and port
// to 3300. A string without "://" is taken whole as a file path.
func Parse(s string) (URL, error) {
	proto := "file"
	rest := s
	if idx := strings.Index(s, "://"); idx >= 0 {
		proto = s[:idx]
		rest = s[idx+3:]
	} else {
		// No proto: the whole string is a local file path.
		return URL{Proto: "file", Path: s}, nil
	}
	if proto != "file" && proto != "cube" {
		return URL{}, fmt.Errorf("cubeurl: unknown proto %q", proto)
	}

	var hostport, path string
	if idx := strings.Index(rest, "/"); idx >= 0 {
		hostport, path = rest[:idx], rest[idx+1:]
	} else {
		hostport = rest
	}

	host, port := "", 0
	if hostport != "" {
		if idx := strings.LastIndex(hostport, ":"); idx >= 0 {
			host = hostport[:idx]
			p, err := strconv.Atoi(hostport[idx+1:])
			if err != nil {
				return URL{}, fmt.Errorf("cubeurl: invalid port in %q: %w", s, err)
			}
			port = p
		} else {
			host = hostport
		}
	}

	u := URL{Proto: proto, Host: host, Path: path}
	switch proto {
	case "cube":
		if host == "" {
			return URL{}, ErrCubeRequiresHost
		}
		if port == 0 {
			port = DefaultPort
		}
		u.Port = port
	case "file":
		if host != "" || port != 0 {
			return URL{}, ErrFileHasHost
		}
	}
	return u, nil
}
