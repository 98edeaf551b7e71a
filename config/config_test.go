// Copyright 2017 Google Inc. All Rights Reserved.
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

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsTightRefresh(t *testing.T) {
	cfg := Default()
	cfg.LeaderLeaseMillis = 1000
	cfg.LeaderRefreshMillis = 400
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroQuorum(t *testing.T) {
	cfg := Default()
	cfg.ClusterQuorum = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_id: test-log\ncluster_quorum: 3\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-log", cfg.LogID)
	assert.Equal(t, 3, cfg.ClusterQuorum)
	assert.Equal(t, Default().MMDSeconds, cfg.MMDSeconds)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Duration(cfg.MMDSeconds)*time.Second, cfg.MMD())
	assert.Equal(t, time.Duration(cfg.SigningIntervalMillis)*time.Millisecond, cfg.SigningInterval())
	assert.Equal(t, time.Duration(cfg.LeaderLeaseMillis)*time.Millisecond, cfg.LeaderLease())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
