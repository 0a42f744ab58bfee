package backend

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	skerrors "github.com/jmurray2011/skein/internal/errors"
	"github.com/jmurray2011/skein/internal/logging"
)

// Opener opens a backend from a parsed URI.
type Opener func(u *url.URL, opts OpenOptions) (Backend, error)

// OpenOptions provides defaults that URI query parameters override.
type OpenOptions struct {
	Profile    string // default AWS profile
	Region     string // default AWS region
	ConfigPath string // profile file; ConfigPath() when empty
	Logger     logging.Logger
}

func (o OpenOptions) logger() logging.Logger {
	if o.Logger == nil {
		return logging.NopLogger{}
	}
	return o.Logger
}

// Log returns the configured logger tagged for a backend kind.
func (o OpenOptions) Log(kind string) logging.Logger {
	return o.logger().WithFields(map[string]interface{}{"component": "backend", "backend": kind})
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register adds an opener for a URI scheme. Backend packages call it from
// init.
func Register(scheme string, opener Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = opener
}

// Schemes returns the registered schemes in sorted order.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open resolves uri to a Backend. It accepts:
//   - ws://host/base, http://host/base (?live=sse for server-sent events)
//   - cloudwatch:///log-group?profile=&region=&bucket=
//   - file:///var/log/app.log or a bare path
//   - @profile, resolved from the config file
func Open(uri string, opts OpenOptions) (Backend, error) {
	if strings.HasPrefix(uri, "@") {
		return openProfile(uri[1:], opts)
	}

	if isBarePath(uri) {
		uri = "file://" + expandPath(uri)
	}

	if err := validateURISyntax(uri); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URI %q: %w", uri, err)
	}

	registryMu.RLock()
	opener, ok := registry[parsed.Scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend scheme %q (available: %s)", parsed.Scheme, availableSchemes())
	}

	return opener(parsed, opts)
}

func openProfile(name string, opts OpenOptions) (Backend, error) {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	profile, ok := cfg.Profiles[name]
	if !ok {
		return nil, skerrors.ProfileNotFoundError(name, cfg.Names())
	}
	if profile.URI == "" {
		return nil, fmt.Errorf("profile @%s has no uri", name)
	}
	if strings.HasPrefix(profile.URI, "@") {
		return nil, fmt.Errorf("profile @%s points at another profile (%s)", name, profile.URI)
	}

	return Open(profile.URI, opts)
}

func isBarePath(uri string) bool {
	return strings.HasPrefix(uri, "/") || strings.HasPrefix(uri, "./") ||
		strings.HasPrefix(uri, "../") || strings.HasPrefix(uri, "~")
}

// validateURISyntax catches common URI mistakes with a helpful message.
func validateURISyntax(uri string) error {
	if idx := strings.Index(uri, "://"); idx > 0 {
		rest := uri[idx+3:]
		if atIdx := strings.Index(rest, "@"); atIdx > 0 {
			afterAt := rest[atIdx+1:]
			if strings.Contains(afterAt, "=") && !strings.Contains(rest[:atIdx], "?") {
				return fmt.Errorf("invalid URI %q: use '?' for query parameters, not '@'", uri)
			}
		}
	}

	if strings.HasPrefix(uri, "///") {
		return fmt.Errorf("invalid URI %q: missing scheme (e.g., cloudwatch:///log-group)", uri)
	}

	if !strings.Contains(uri, "://") {
		return fmt.Errorf("invalid URI %q: expected scheme://..., a path or @profile", uri)
	}

	return nil
}

func availableSchemes() string {
	schemes := Schemes()
	if len(schemes) == 0 {
		return "(none registered)"
	}
	return strings.Join(schemes, ", ")
}

// expandPath resolves ~ to the home directory and makes relative paths
// absolute.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}
