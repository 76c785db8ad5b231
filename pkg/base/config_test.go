// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Arenadata-Labs/gpdb/pkg/base"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := base.ParseConfig([]byte(`
role: dispatch
work_mem: 4 MiB
portal_memory_limit: 64MiB
statement_timeout: 5s
fail_ready_portals_on_abort: true
resource_queue:
  enabled: true
  active_statements: 2
  cost_limit: 100
`))
	require.NoError(t, err)
	require.Equal(t, base.RoleDispatch, cfg.Role)
	require.Equal(t, base.ByteSize(4<<20), cfg.WorkMem)
	require.Equal(t, base.ByteSize(64<<20), cfg.PortalMemoryLimit)
	require.Equal(t, 5*time.Second, cfg.StatementTimeout)
	require.True(t, cfg.FailReadyPortalsOnAbort)
	require.True(t, cfg.ResourceQueue.Enabled)
	require.Equal(t, 2, cfg.ResourceQueue.ActiveStatements)
	// Unset sections keep their defaults.
	require.True(t, cfg.TempStorage.InMemory)
	require.Equal(t, "4.0 MiB", cfg.WorkMem.String())
}

func TestParseConfigErrors(t *testing.T) {
	testCases := []struct {
		input string
		err   string
	}{
		{`role: coordinator`, `unknown role "coordinator"`},
		{`work_mem: lots`, `invalid byte size "lots"`},
		{`no_such_field: 1`, `field no_such_field not found`},
		{`work_mem: 1 GiB
portal_memory_limit: 1 MiB`, `portal_memory_limit (1.0 MiB) must be at least work_mem (1.0 GiB)`},
		{`temp_storage: {in_memory: false}`, `temp_storage.path is required`},
		{`resource_queue: {enabled: true, active_statements: 0}`, `active_statements must be positive`},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			_, err := base.ParseConfig([]byte(tc.input))
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("role: execute\n"), 0644))
	cfg, err := base.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, base.RoleExecute, cfg.Role)
	require.Equal(t, "execute", cfg.Role.String())

	_, err = base.LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "reading configuration")
}
