package cqlstore

import (
	"fmt"
	"regexp"
	"time"
)

// Configuration defaults
const (
	DefaultHost           = "localhost:9042"
	DefaultNamespace      = "biblionarrator"
	DefaultConnectTimeout = 10 * time.Second
	DefaultQueryTimeout   = 5 * time.Second

	// Staged media files
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)

// identifierPattern matches names that can be interpolated into CQL as
// unquoted identifiers (Cassandra caps table and keyspace names at 48 chars)
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// Config holds the connection settings for one backend instance.
// Build it once, apply WithDefaults, then Validate; it is not modified afterwards.
type Config struct {
	Hosts    []string `mapstructure:"hosts"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`

	// Namespace is the keyspace every collection lives in
	Namespace string `mapstructure:"namespace"`

	// KeyspaceConf is passed through verbatim as CREATE KEYSPACE properties,
	// e.g. {"replication": {"class": "SimpleStrategy", "replication_factor": 1}}
	KeyspaceConf map[string]interface{} `mapstructure:"keyspaceconf"`

	// ConnectTimeout bounds the whole connect sequence; zero disables it
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// QueryTimeout is handed to the driver for individual round-trips
	QueryTimeout time.Duration `mapstructure:"timeout"`
}

// Document mirrors the process configuration layout:
//
//	backendconf:
//	  cassandra:
//	    hosts: [...]
type Document struct {
	BackendConf struct {
		Cassandra Config `mapstructure:"cassandra"`
	} `mapstructure:"backendconf"`
}

// DefaultConfig returns a configuration pointing at a local node
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy of c with every unset field defaulted
func (c Config) WithDefaults() Config {
	out := c
	if len(out.Hosts) == 0 {
		out.Hosts = []string{DefaultHost}
	} else {
		out.Hosts = append([]string(nil), c.Hosts...)
	}
	if out.Namespace == "" {
		out.Namespace = DefaultNamespace
	}
	if out.KeyspaceConf == nil {
		out.KeyspaceConf = map[string]interface{}{
			"replication": map[string]interface{}{
				"class":              "SimpleStrategy",
				"replication_factor": 1,
			},
		}
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.QueryTimeout == 0 {
		out.QueryTimeout = DefaultQueryTimeout
	}
	return out
}

// HasCredentials reports whether a user/password pair is configured
func (c Config) HasCredentials() bool {
	return c.User != "" && c.Password != ""
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if len(c.Hosts) == 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Hosts",
			"reason": "at least one host is required",
		})
	}
	for i, h := range c.Hosts {
		if h == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  fmt.Sprintf("Hosts[%d]", i),
				"reason": "host must not be empty",
			})
		}
	}
	if !identifierPattern.MatchString(c.Namespace) {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Namespace",
			"value":  c.Namespace,
			"reason": "must start with a letter and contain only letters, digits and underscores (max 48)",
		})
	}
	if (c.User == "") != (c.Password == "") {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "User/Password",
			"reason": "user and password must be set together",
		})
	}
	if c.ConnectTimeout < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ConnectTimeout",
			"value":  c.ConnectTimeout,
			"reason": "must be non-negative",
		})
	}
	if c.QueryTimeout < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "QueryTimeout",
			"value":  c.QueryTimeout,
			"reason": "must be non-negative",
		})
	}
	if _, err := keyspaceProperties(c.KeyspaceConf); err != nil {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "KeyspaceConf",
			"reason": err.Error(),
		})
	}
	return nil
}

// ValidateCollection checks that name is usable as a collection (table) name
func ValidateCollection(name string) error {
	if !identifierPattern.MatchString(name) {
		return WithContext(ErrInvalidCollection, map[string]interface{}{
			"collection": name,
		})
	}
	return nil
}
