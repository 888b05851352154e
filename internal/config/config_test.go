// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_MissingFileIsNotError(t *testing.T) {
	cfg, err := LoadFile(DefaultConfig(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DatabaseURL, cfg.DatabaseURL)
}

func TestLoadFile_OverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: "postgres://spine@localhost/spine"
max_workers: 16
feature_flags:
  tracked_runner: true
`), 0600))

	cfg, err := LoadFile(DefaultConfig(), path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://spine@localhost/spine", cfg.DatabaseURL)
	assert.Equal(t, 16, cfg.MaxWorkers)
	assert.True(t, cfg.FeatureEnabled("tracked_runner"))
}

func TestLoadEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("SPINE_DATABASE_URL", "sqlite:///tmp/spine.db")
	t.Setenv("SPINE_MAX_WORKERS", "8")
	t.Setenv("SPINE_POLL_INTERVAL", "250ms")
	t.Setenv("SPINE_FF_ADAPTIVE_SCHEDULING", "true")

	cfg, err := LoadEnv(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/spine.db", cfg.DatabaseURL)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.FeatureEnabled("adaptive_scheduling"))
}

func TestLoadEnv_InvalidDurationErrors(t *testing.T) {
	t.Setenv("SPINE_POLL_INTERVAL", "not-a-duration")
	_, err := LoadEnv(DefaultConfig())
	assert.Error(t, err)
}

func TestLoad_EnvTakesPrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_workers: 2\n"), 0600))
	t.Setenv("SPINE_MAX_WORKERS", "12")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxWorkers)
}

func TestValidate_RejectsNonPositiveKnobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWorkers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RetentionDays = -1
	assert.Error(t, cfg.Validate())
}

func TestConfigDir_RespectsXDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "spine"), got)
}
