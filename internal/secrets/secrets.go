package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a named secret is not available.
var ErrNotFound = errors.New("secret not found")

// Names of the credentials the pipeline reads.
const (
	APIKey            = "API-key"
	APISecretKey      = "API-secret-key"
	AccessToken       = "Access-token"
	AccessTokenSecret = "Access-token-secret"
	DBPassword        = "sqlPwd"
)

// Provider resolves a named credential. Values are opaque and must never be logged.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// Static serves secrets from an in-memory map.
type Static map[string]string

func (s Static) Get(ctx context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// Env resolves secrets from environment variables. The variable name is the prefix
// followed by the secret name upper-cased with '-' replaced by '_', so "API-key"
// with prefix "TRAWL_SECRET_" reads TRAWL_SECRET_API_KEY.
type Env struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnv returns an Env provider using os.LookupEnv.
func NewEnv(prefix string) *Env {
	return &Env{Prefix: prefix, lookup: os.LookupEnv}
}

// VarName returns the environment variable consulted for name.
func (e *Env) VarName(name string) string {
	return e.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (e *Env) Get(ctx context.Context, name string) (string, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(e.VarName(name))
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrNotFound, name, e.VarName(name))
	}
	return v, nil
}

// File serves secrets from a flat YAML mapping of name to value, loaded once on
// first use.
type File struct {
	Path string

	once   sync.Once
	values map[string]string
	err    error
}

// NewFile returns a File provider for path.
func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) load() {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		f.err = fmt.Errorf("secrets: read %s: %w", f.Path, err)
		return
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		f.err = fmt.Errorf("secrets: parse %s: %w", f.Path, err)
		return
	}
	f.values = values
}

func (f *File) Get(ctx context.Context, name string) (string, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// New builds a provider by kind: "env" or "file".
func New(kind, envPrefix, filePath string) (Provider, error) {
	switch kind {
	case "", "env":
		return NewEnv(envPrefix), nil
	case "file":
		if filePath == "" {
			return nil, errors.New("secrets: file provider requires a path")
		}
		return NewFile(filePath), nil
	default:
		return nil, fmt.Errorf("secrets: unknown provider %q", kind)
	}
}
