package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentic-research/arbor/internal/freq"
)

// Duration is a time.Duration that reads "1m30s" strings or whole seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", b)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Load reads and validates a configuration file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &c, nil
}

// Validate fills defaults and checks that the configuration can open a
// dataset.
func (c *Config) Validate() error {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if c.Backend == "" {
		c.Backend = BackendFileSystem
	}
	if c.Space == "" {
		c.Space = freq.Clinical.Name()
	}
	var errs []error
	switch c.Backend {
	case BackendFileSystem, BackendBIDS:
		if c.BaseDir == "" && !filepath.IsAbs(c.Dataset) {
			errs = append(errs, fmt.Errorf("backend %s needs base_dir or an absolute dataset path", c.Backend))
		}
	case BackendSQLite:
		if c.Database == "" && c.BaseDir == "" {
			errs = append(errs, errors.New("backend sqlite needs database or base_dir"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Dataset == "" {
		errs = append(errs, errors.New("dataset is required"))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, errors.New("lock_timeout must not be negative"))
	}
	space, err := c.ResolveSpace()
	if err != nil {
		errs = append(errs, err)
	} else if len(c.Hierarchy) == 0 && c.Backend != BackendBIDS {
		errs = append(errs, fmt.Errorf("backend %s needs a hierarchy", c.Backend))
	} else if _, err := c.ResolveHierarchy(space); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ResolveSpace returns the declared custom space or the named built-in one.
func (c *Config) ResolveSpace() (*freq.Space, error) {
	if len(c.Dimensions) == 0 {
		return freq.LookupSpace(c.Space)
	}
	names := make([]string, 0, len(c.Dimensions))
	for n := range c.Dimensions {
		names = append(names, n)
	}
	sort.Strings(names)
	members := make([]freq.Member, len(names))
	for i, n := range names {
		members[i] = freq.Member{Name: n, Bits: c.Dimensions[n]}
	}
	name := c.Space
	if name == freq.Clinical.Name() {
		name = "custom"
	}
	return freq.NewSpace(name, members...)
}

// ResolveHierarchy parses Hierarchy in space. An empty hierarchy yields nil.
func (c *Config) ResolveHierarchy(space *freq.Space) (freq.Hierarchy, error) {
	if len(c.Hierarchy) == 0 {
		return nil, nil
	}
	return freq.ParseHierarchy(space, c.Hierarchy...)
}

// DatabasePath is the SQLite file used by the sqlite backend.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.BaseDir, "arbor.db")
}
