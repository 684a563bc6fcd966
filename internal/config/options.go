package config

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/warpdl/warpnet/pkg/cookiestore"
	"github.com/warpdl/warpnet/pkg/gateway"
)

type option struct {
	get func(*Settings) string
	set func(*Settings, string) error
	// secret options are masked by Describe.
	secret bool
}

var options = map[string]option{
	"cookies.accept": {
		get: func(s *Settings) string { return s.Cookies.Accept },
		set: func(s *Settings, v string) error {
			p, err := cookiestore.ParseAcceptPolicy(v)
			if err != nil {
				return err
			}
			s.Cookies.Accept = string(p)
			return nil
		},
	},
	"cookies.store":                boolOption(func(s *Settings) *bool { return &s.Cookies.Store }),
	"network.ssl-strict":           boolOption(func(s *Settings) *bool { return &s.Network.SSLStrict }),
	"network.do-not-track":         boolOption(func(s *Settings) *bool { return &s.Network.DoNotTrack }),
	"network.remember-credentials": boolOption(func(s *Settings) *bool { return &s.Network.RememberCredentials }),
	"network.accept-language": {
		get: func(s *Settings) string { return s.Network.AcceptLanguage },
		set: func(s *Settings, v string) error {
			if strings.ContainsAny(v, "\r\n") {
				return fmt.Errorf("invalid header value %q", v)
			}
			s.Network.AcceptLanguage = strings.TrimSpace(v)
			return nil
		},
	},
	"network.proxy": {
		get: func(s *Settings) string { return s.Network.Proxy },
		set: func(s *Settings, v string) error {
			v = strings.TrimSpace(v)
			if v != "" {
				if _, err := gateway.ParseProxyURL(v); err != nil {
					return err
				}
			}
			s.Network.Proxy = v
			return nil
		},
		secret: true,
	},
	"schemes.scripts": {
		get: func(s *Settings) string { return formatScripts(s.Schemes.Scripts) },
		set: func(s *Settings, v string) error {
			m, err := parseScripts(v)
			if err != nil {
				return err
			}
			s.Schemes.Scripts = m
			return nil
		},
	},
	"log.level": {
		get: func(s *Settings) string { return s.Log.Level },
		set: func(s *Settings, v string) error {
			switch v = strings.ToLower(strings.TrimSpace(v)); v {
			case "debug", "info", "warn", "warning", "error":
				s.Log.Level = v
				return nil
			}
			return fmt.Errorf("invalid log level %q", v)
		},
	},
	"log.development": boolOption(func(s *Settings) *bool { return &s.Log.Development }),
	"server.listen": {
		get: func(s *Settings) string { return s.Server.Listen },
		set: func(s *Settings, v string) error {
			if _, _, err := net.SplitHostPort(v); err != nil {
				return fmt.Errorf("invalid listen address %q: %w", v, err)
			}
			s.Server.Listen = v
			return nil
		},
	},
	"server.token": {
		get:    func(s *Settings) string { return s.Server.Token },
		set:    func(s *Settings, v string) error { s.Server.Token = v; return nil },
		secret: true,
	},
}

func boolOption(field func(*Settings) *bool) option {
	return option{
		get: func(s *Settings) string { return strconv.FormatBool(*field(s)) },
		set: func(s *Settings, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid boolean %q", v)
			}
			*field(s) = b
			return nil
		},
	}
}

// UnknownOptionError is returned for a section.option pair that does not exist.
type UnknownOptionError struct {
	Name string
}

func (e *UnknownOptionError) Error() string {
	return "no option " + e.Name
}

func lookup(section, name string) (option, error) {
	key := strings.ToLower(section) + "." + strings.ToLower(name)
	opt, ok := options[key]
	if !ok {
		return option{}, &UnknownOptionError{Name: key}
	}
	return opt, nil
}

// Names lists every option as section.option, sorted.
func Names() []string {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

const secretMask = "********"

// Entry is one option with its current value.
type Entry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Describe lists every option with its current value. Secret values are
// masked when set.
func (c *Store) Describe() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := Names()
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		opt := options[name]
		v := opt.get(&c.s)
		if opt.secret && v != "" {
			v = secretMask
		}
		out = append(out, Entry{Name: name, Value: v})
	}
	return out
}

// Show returns section.option like Get, masking secret values when set.
func (c *Store) Show(section, option string) (Entry, error) {
	opt, err := lookup(section, option)
	if err != nil {
		return Entry{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := opt.get(&c.s)
	if opt.secret && v != "" {
		v = secretMask
	}
	return Entry{Name: section + "." + option, Value: v}, nil
}

// formatScripts renders a scripts map as name=path pairs separated by
// commas, sorted by name.
func formatScripts(m map[string]string) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+m[name])
	}
	return strings.Join(parts, ",")
}

func parseScripts(v string) (map[string]string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	m := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		name, path, ok := strings.Cut(pair, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		path = strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid script mapping %q (expected name=path)", pair)
		}
		if !validSchemeName(name) {
			return nil, fmt.Errorf("invalid scheme name %q", name)
		}
		m[name] = path
	}
	return m, nil
}

// validSchemeName follows the RFC 3986 scheme grammar.
func validSchemeName(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return s != ""
}
