// Package params resolves a source identifier into the typed parameters of one
// extraction run. The control table stores every value as text; Values carries
// them untyped and its accessors do the validated coercion.
package params

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/FranksOps/trawl/internal/storage"
)

// ErrConfiguration is returned when a source cannot be turned into a complete parameter set.
var ErrConfiguration = errors.New("configuration error")

// Parameter names read from the control table.
const (
	NameCount    = "count"
	NameLanguage = "language"
	NameQuery    = "query"
	NameSortBy   = "sort_by"
)

// SortOrders lists the result orderings accepted by the search API.
var SortOrders = []string{"popular", "mixed", "recent"}

// Parameters is the typed parameter set of a source.
type Parameters struct {
	Count    int
	Language string
	Query    string
	SortBy   string
}

// Values is the raw name -> value view of a source's parameters.
type Values map[string]string

// FromRows pivots parameter rows into Values. A name repeated with a different
// value is ambiguous and rejected.
func FromRows(rows []storage.ParameterRow) (Values, error) {
	v := make(Values, len(rows))
	for _, r := range rows {
		name := strings.TrimSpace(r.Name)
		value := strings.TrimSpace(r.Value)
		if prev, ok := v[name]; ok && prev != value {
			return nil, fmt.Errorf("%w: parameter %q defined twice (%q, %q)", ErrConfiguration, name, prev, value)
		}
		v[name] = value
	}
	return v, nil
}

// String returns a required, non-blank parameter.
func (v Values) String(name string) (string, error) {
	s, ok := v[name]
	if !ok {
		return "", fmt.Errorf("%w: missing parameter %q", ErrConfiguration, name)
	}
	if s == "" {
		return "", fmt.Errorf("%w: parameter %q is blank", ErrConfiguration, name)
	}
	return s, nil
}

// Int returns a required parameter parsed as a base-10 integer.
func (v Values) Int(name string) (int, error) {
	s, err := v.String(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %q is not an integer: %q", ErrConfiguration, name, s)
	}
	return n, nil
}

// OneOf returns a required parameter constrained to the allowed set.
func (v Values) OneOf(name string, allowed []string) (string, error) {
	s, err := v.String(name)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: parameter %q must be one of %s, got %q", ErrConfiguration, name, strings.Join(allowed, "|"), s)
}

// Parameters converts the raw values into the typed set, failing on the first
// missing or invalid entry.
func (v Values) Parameters() (Parameters, error) {
	var p Parameters
	var err error

	if p.Count, err = v.Int(NameCount); err != nil {
		return Parameters{}, err
	}
	if p.Count <= 0 {
		return Parameters{}, fmt.Errorf("%w: parameter %q must be positive, got %d", ErrConfiguration, NameCount, p.Count)
	}
	if p.Language, err = v.String(NameLanguage); err != nil {
		return Parameters{}, err
	}
	if p.Query, err = v.String(NameQuery); err != nil {
		return Parameters{}, err
	}
	if p.SortBy, err = v.OneOf(NameSortBy, SortOrders); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Client resolves parameters from a storage.ParameterSource.
type Client struct {
	src storage.ParameterSource
}

// NewClient returns a Client reading from src.
func NewClient(src storage.ParameterSource) *Client {
	return &Client{src: src}
}

// Resolve reads the source's rows and returns its complete parameter set.
func (c *Client) Resolve(ctx context.Context, sourceID string) (Parameters, error) {
	rows, err := c.src.ParameterRows(ctx, sourceID)
	if err != nil {
		return Parameters{}, fmt.Errorf("%w: read parameters for source %s: %w", ErrConfiguration, sourceID, err)
	}
	if len(rows) == 0 {
		return Parameters{}, fmt.Errorf("%w: no parameters for source %s", ErrConfiguration, sourceID)
	}

	v, err := FromRows(rows)
	if err != nil {
		return Parameters{}, err
	}
	p, err := v.Parameters()
	if err != nil {
		return Parameters{}, fmt.Errorf("source %s: %w", sourceID, err)
	}
	return p, nil
}
