package application

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-crowdcheck/infrastructure/cache"
	"github.com/ahrav/go-crowdcheck/internal/domain"
	"github.com/ahrav/go-crowdcheck/internal/ports"
)

// PolicyFormat identifies a policy file encoding.
type PolicyFormat string

const (
	FormatYAML PolicyFormat = "yaml"
	FormatTOML PolicyFormat = "toml"
	FormatJSON PolicyFormat = "json"
)

// FormatForPath picks the format from the file extension.
func FormatForPath(path string) (PolicyFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported policy file extension %q", domain.ErrInvalidConfiguration, filepath.Ext(path))
	}
}

// Validate checks field ranges and that every kind has a usable weight.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}

	verr := domain.NewValidationError("policy")
	for name, w := range map[string]LayerWeights{
		"closed":    p.Weights.Closed,
		"open_text": p.Weights.OpenText,
		"other":     p.Weights.Other,
	} {
		if w.total() <= 0 {
			verr.AddError(fmt.Sprintf("weights.%s must have at least one positive weight", name))
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// DecodePolicy overlays data onto DefaultPolicy and validates the result.
// Unknown fields are rejected in every format.
func DecodePolicy(data []byte, format PolicyFormat) (Policy, error) {
	p := DefaultPolicy()

	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&p)
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
	default:
		return Policy{}, fmt.Errorf("%w: unknown policy format %q", domain.ErrInvalidConfiguration, format)
	}
	// An empty YAML document decodes to io.EOF; keep the defaults.
	if err != nil && !(format == FormatYAML && len(bytes.TrimSpace(data)) == 0) {
		return Policy{}, fmt.Errorf("%w: decode %s policy: %w", domain.ErrInvalidConfiguration, format, err)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads and decodes the policy file at path.
func LoadPolicy(path string) (Policy, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return Policy{}, ports.NewConfigError(path, err)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Policy{}, ports.NewConfigError(path, fmt.Errorf("%w: %w", ports.ErrConfigNotFound, err))
		}
		return Policy{}, ports.NewConfigError(path, err)
	}

	p, err := DecodePolicy(data, format)
	if err != nil {
		return Policy{}, ports.NewConfigError(path, err)
	}
	return p, nil
}

// PolicyLoader caches parsed policies per path for a fixed TTL and collapses
// concurrent loads of the same path into one read.
type PolicyLoader struct {
	cache *cache.TTL[string, Policy]
	sf    singleflight.Group
	load  func(string) (Policy, error)
}

// NewPolicyLoader returns a loader whose entries live for ttl. A nil clock
// uses the wall clock.
func NewPolicyLoader(ttl time.Duration, clock cache.Clock) *PolicyLoader {
	return &PolicyLoader{
		cache: cache.NewTTL[string, Policy](ttl, clock),
		load:  LoadPolicy,
	}
}

// Load returns the policy at path, reading the file only when no fresh
// cached copy exists. Every call returns its own copy; changes to it never
// reach the cache.
func (l *PolicyLoader) Load(path string) (Policy, error) {
	key := filepath.Clean(path)
	if p, ok := l.cache.Get(key); ok {
		return p.Clone(), nil
	}

	v, err, _ := l.sf.Do(key, func() (any, error) {
		// Another caller may have filled the cache while we waited.
		if p, ok := l.cache.Get(key); ok {
			return p, nil
		}
		p, err := l.load(key)
		if err != nil {
			return Policy{}, err
		}
		l.cache.Put(key, p.Clone())
		return p, nil
	})
	if err != nil {
		return Policy{}, err
	}
	// v is shared by every caller collapsed into this load.
	return v.(Policy).Clone(), nil
}

// Invalidate drops cached policies for paths, or all of them when none are
// given.
func (l *PolicyLoader) Invalidate(paths ...string) {
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = filepath.Clean(p)
	}
	l.cache.Invalidate(keys...)
}
