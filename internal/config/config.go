// Package config defines the typed boundary between the external CLI/YAML
// loaders and the proxy core, per §4.7. Nothing here is aware of flags or
// environment variables; cmd/gatekeeperd owns that translation, takes its
// flag defaults and rule loading (LoadRules) from here, and hands the core
// a proxy.Config built from them rather than a Config value.
package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/gatekeeperd/gatekeeper/internal/rule"
)

const (
	DefaultBindAddr        = "0.0.0.0"
	DefaultBindPort        = 1080
	DefaultDialTimeout     = 10 * time.Second
	DefaultRelayBufferSize = 8192
)

// Config is the core's complete startup contract.
type Config struct {
	BindAddr        net.IP
	BindPort        uint16
	Rules           *rule.Set
	DialTimeout     time.Duration
	RelayBufferSize int
}

// Addr formats BindAddr/BindPort as a dial/listen string.
func (c Config) Addr() string {
	return net.JoinHostPort(c.BindAddr.String(), strconv.Itoa(int(c.BindPort)))
}

// Default returns a Config with every field at its §4.7 default: bind to
// 0.0.0.0:1080, a 10s dial timeout, an 8192-byte relay buffer, and a
// rule set of a single Allow(Any,Any,Any) entry.
func Default() Config {
	allowAll, err := rule.NewSet([]rule.Entry{{Verdict: rule.Allow, Matcher: rule.AnyMatcher()}}, nil)
	if err != nil {
		// NewSet only fails on a malformed entry list; the literal above
		// is always well-formed.
		panic(err)
	}
	return Config{
		BindAddr:        net.ParseIP(DefaultBindAddr),
		BindPort:        DefaultBindPort,
		Rules:           allowAll,
		DialTimeout:     DefaultDialTimeout,
		RelayBufferSize: DefaultRelayBufferSize,
	}
}

// LoadRules reads and decodes the rule file at path. An empty path yields
// the default Allow(Any,Any,Any) rule set rather than an error, matching
// §4.7's "if absent, rules defaults to..." clause.
func LoadRules(path string, geo rule.CountryLookup) (*rule.Set, error) {
	if path == "" {
		return Default().Rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return rule.Decode(data, geo)
}
