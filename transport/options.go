package transport

import (
	"errors"
	"net/http"
	"time"
)

// Config holds the settings every backend constructor reads out of the
// Option list. Not every field is meaningful to every backend (DialTimeout
// is ignored by the HTTP backend, for instance); each backend documents
// which it honors.
type Config struct {
	HTTPClient *http.Client
	UserAgent  string
	BasicAuth  *BasicAuth
	AuthToken  string

	// AuthCallbacks, if set, lets the smart-HTTP backend ask the caller
	// for credentials after a 401 and retry the discovery request once.
	AuthCallbacks *AuthCallbacks

	// CORSProxy, if set, is prepended to every outgoing smart-HTTP URL.
	// A proxy ending in "?" receives the original URL verbatim as its
	// query string; any other form receives "<proxy>/<host><path>".
	CORSProxy string

	// DialTimeout bounds establishing the underlying TCP connection for
	// the SSH backend. The git:// backend dials without a timeout.
	DialTimeout time.Duration

	// SSHPrivateKey, if set, is used for SSH public-key authentication in
	// PEM form. If unset, the SSH backend falls back to the user's
	// running ssh-agent.
	SSHPrivateKey []byte
	// SSHKnownHosts, if set, restricts SSH host key verification to these
	// known_hosts-formatted entries. If unset, host keys are accepted
	// without verification -- callers embedding this in a security
	// sensitive context should always set it.
	SSHKnownHosts []byte
}

// BasicAuth carries HTTP basic-auth credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Option configures a Backend at dial time.
type Option func(*Config) error

// WithHTTPClient overrides the *http.Client used by the smart-HTTP backend.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *Config) error {
		if c == nil {
			return errors.New("transport: http client cannot be nil")
		}
		cfg.HTTPClient = c
		return nil
	}
}

// WithUserAgent overrides the default "gitcore/0" User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cfg *Config) error {
		cfg.UserAgent = ua
		return nil
	}
}

// WithBasicAuth configures HTTP Basic authentication.
func WithBasicAuth(username, password string) Option {
	return func(cfg *Config) error {
		if username == "" {
			return errors.New("transport: basic auth username cannot be empty")
		}
		if cfg.AuthToken != "" {
			return errors.New("transport: cannot use both basic auth and token auth")
		}
		cfg.BasicAuth = &BasicAuth{Username: username, Password: password}
		return nil
	}
}

// WithTokenAuth sets the Authorization header verbatim; the caller is
// responsible for any required "Bearer "/"token " prefix.
func WithTokenAuth(token string) Option {
	return func(cfg *Config) error {
		if token == "" {
			return errors.New("transport: token cannot be empty")
		}
		if cfg.BasicAuth != nil {
			return errors.New("transport: cannot use both basic auth and token auth")
		}
		cfg.AuthToken = token
		return nil
	}
}

// WithCORSProxy routes every smart-HTTP request through a CORS proxy.
// proxy may be of the path-prepending form ("https://proxy.example.com",
// producing "<proxy>/<host><path>") or the query form, signalled by a
// trailing "?" ("https://proxy.example.com/fetch?", producing
// "<proxy>?<original-url>").
func WithCORSProxy(proxy string) Option {
	return func(cfg *Config) error {
		if proxy == "" {
			return errors.New("transport: CORS proxy URL cannot be empty")
		}
		cfg.CORSProxy = proxy
		return nil
	}
}

// WithDialTimeout bounds connection establishment for the SSH backend; the
// git:// backend does not apply it.
func WithDialTimeout(d time.Duration) Option {
	return func(cfg *Config) error {
		cfg.DialTimeout = d
		return nil
	}
}

// WithSSHPrivateKey configures SSH public-key authentication from a PEM
// encoded private key, bypassing the running ssh-agent.
func WithSSHPrivateKey(pem []byte) Option {
	return func(cfg *Config) error {
		cfg.SSHPrivateKey = pem
		return nil
	}
}

// WithSSHKnownHosts restricts SSH host key verification to the given
// known_hosts-formatted entries.
func WithSSHKnownHosts(knownHosts []byte) Option {
	return func(cfg *Config) error {
		cfg.SSHKnownHosts = knownHosts
		return nil
	}
}

func newConfig(opts []Option) (*Config, error) {
	cfg := &Config{
		HTTPClient:  &http.Client{},
		UserAgent:   "gitcore/0",
		DialTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
