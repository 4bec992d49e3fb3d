package inputs

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidProxy is returned for proxy lines that cannot be parsed.
var ErrInvalidProxy = errors.New("invalid proxy entry")

// Proxy is one HTTP proxy credential from the proxies file.
type Proxy struct {
	Host     string
	Port     string
	Username string
	Password string
}

// ParseProxy accepts "login:pass:host:port" or "host:port[:login[:pass]]".
// Four fields ending in a port are read as login first; otherwise the first
// two fields are host and port and fields past the password are ignored.
func ParseProxy(line string) (Proxy, error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, ":")
	if len(parts) < 2 {
		return Proxy{}, fmt.Errorf("%w: want host:port or login:pass:host:port, got %q", ErrInvalidProxy, line)
	}

	var p Proxy
	if len(parts) == 4 && isPort(parts[3]) {
		p = Proxy{Username: parts[0], Password: parts[1], Host: parts[2], Port: parts[3]}
	} else {
		p = Proxy{Host: parts[0], Port: parts[1]}
		if len(parts) > 2 {
			p.Username = parts[2]
		}
		if len(parts) > 3 {
			p.Password = parts[3]
		}
	}

	if p.Host == "" || !isPort(p.Port) {
		return Proxy{}, fmt.Errorf("%w: bad host or port in %q", ErrInvalidProxy, line)
	}
	return p, nil
}

func isPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}

// Address returns host:port.
func (p Proxy) Address() string { return net.JoinHostPort(p.Host, p.Port) }

// Server returns the value for Chrome's --proxy-server flag.
func (p Proxy) Server() string { return "http://" + p.Address() }

// HasAuth reports whether the proxy needs credentials.
func (p Proxy) HasAuth() bool { return p.Username != "" && p.Password != "" }

// String hides the password so proxies can be logged.
func (p Proxy) String() string {
	if p.Username == "" {
		return p.Address()
	}
	return p.Username + "@" + p.Address()
}
