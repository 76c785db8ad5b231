// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"
)

// Role is the role of this backend process within a cluster.
type Role int

const (
	// RoleUtility is a standalone backend.
	RoleUtility Role = iota
	// RoleDispatch is a coordinator backend that dispatches plans to
	// executors. Resource queues are only enforced here.
	RoleDispatch
	// RoleExecute is a backend running a slice of a dispatched plan. It does
	// not report user-facing warnings.
	RoleExecute
)

var roleNames = map[Role]string{
	RoleUtility:  "utility",
	RoleDispatch: "dispatch",
	RoleExecute:  "execute",
}

// String implements fmt.Stringer.
func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return "unknown"
}

// SafeValue implements redact.SafeValue.
func (Role) SafeValue() {}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Role) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	for role, name := range roleNames {
		if name == s {
			*r = role
			return nil
		}
	}
	return errors.Newf("unknown role %q", s)
}

// ByteSize is a byte count that is written in configuration files in human
// form, e.g. "64 MiB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return errors.Wrapf(err, "invalid byte size %q", s)
	}
	*b = ByteSize(n)
	return nil
}

// String implements fmt.Stringer.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// TempStorageConfig configures the storage used for rows that spill out of
// memory, e.g. materialized holdable cursors.
type TempStorageConfig struct {
	// InMemory keeps temporary storage in memory instead of on disk.
	InMemory bool `yaml:"in_memory"`
	// Path is the directory under which temporary stores are created. It is
	// ignored when InMemory is set.
	Path string `yaml:"path"`
	// MaxSize bounds the bytes spilled to temporary storage.
	MaxSize ByteSize `yaml:"max_size"`
}

// ResourceQueueConfig configures resource queue admission.
type ResourceQueueConfig struct {
	Enabled bool `yaml:"enabled"`
	// ActiveStatements is the number of portals that can hold a queue slot
	// at once.
	ActiveStatements int `yaml:"active_statements"`
	// CostLimit bounds the sum of the cost increments of portals holding a
	// slot. Zero means unlimited.
	CostLimit float64 `yaml:"cost_limit"`
}

// Config is the configuration of a backend session.
type Config struct {
	Role Role `yaml:"role"`
	// WorkMem is the memory budget of a single materialized result before it
	// spills to temporary storage.
	WorkMem ByteSize `yaml:"work_mem"`
	// PortalMemoryLimit bounds the memory of all portals of the session.
	PortalMemoryLimit ByteSize `yaml:"portal_memory_limit"`
	// StatementTimeout cancels statements that run longer. Zero disables it.
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	// FailReadyPortalsOnAbort forces READY portals created in an aborting
	// transaction into the FAILED state before their cleanup hook runs.
	FailReadyPortalsOnAbort bool `yaml:"fail_ready_portals_on_abort"`

	ResourceQueue ResourceQueueConfig `yaml:"resource_queue"`
	TempStorage   TempStorageConfig   `yaml:"temp_storage"`
}

// DefaultWorkMem is the default value of Config.WorkMem.
const DefaultWorkMem = 32 << 20

// DefaultPortalMemoryLimit is the default value of Config.PortalMemoryLimit.
const DefaultPortalMemoryLimit = 1 << 30

// DefaultTempStorageMaxSize is the default value of TempStorageConfig.MaxSize.
const DefaultTempStorageMaxSize = 32 << 30

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Role:              RoleUtility,
		WorkMem:           DefaultWorkMem,
		PortalMemoryLimit: DefaultPortalMemoryLimit,
		ResourceQueue: ResourceQueueConfig{
			ActiveStatements: 20,
		},
		TempStorage: TempStorageConfig{
			InMemory: true,
			MaxSize:  DefaultTempStorageMaxSize,
		},
	}
}

// TestingConfig returns a Config suitable for tests: in-memory temporary
// storage and small budgets.
func TestingConfig() Config {
	cfg := DefaultConfig()
	cfg.WorkMem = 64 << 10
	cfg.TempStorage.MaxSize = 100 << 20
	return cfg
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.WorkMem <= 0 {
		return errors.Newf("work_mem must be positive, got %d", c.WorkMem)
	}
	if c.PortalMemoryLimit < c.WorkMem {
		return errors.Newf("portal_memory_limit (%s) must be at least work_mem (%s)",
			c.PortalMemoryLimit, c.WorkMem)
	}
	if c.StatementTimeout < 0 {
		return errors.Newf("statement_timeout must not be negative")
	}
	if c.ResourceQueue.Enabled && c.ResourceQueue.ActiveStatements <= 0 {
		return errors.Newf("resource_queue.active_statements must be positive when enabled")
	}
	if !c.TempStorage.InMemory && c.TempStorage.Path == "" {
		return errors.WithHint(
			errors.Newf("temp_storage.path is required for on-disk temporary storage"),
			"set temp_storage.in_memory: true to keep spilled rows in memory")
	}
	return nil
}

// ParseConfig parses a YAML configuration on top of the defaults. Unknown
// fields are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading configuration %s", path)
	}
	return ParseConfig(data)
}
