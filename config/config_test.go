// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gryphon.json")
	cfg := &Gryphon{
		HostFile:    "hosts.txt",
		Isolation:   Serializable,
		HTTPAddress: "localhost:9990",
	}
	cfg.ApplyDefaults()
	require.NoError(t, Write(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Serializable, got.Isolation)
	assert.Equal(t, "hosts.txt", got.HostFile)
	assert.Equal(t, 4, got.ExpertThreads)
	assert.Equal(t, 1<<20, got.MaxMessageSize)
}

func Test_Load_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"notAField": 1}`), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func Test_Load_RejectsNull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "null.json")
	require.NoError(t, os.WriteFile(path, []byte(`null`), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func Test_ParseHostfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.txt")
	content := `# cluster layout
master0:7000:8000
worker1:7001:8001
worker2:7002:8002
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cluster, err := ParseHostfile(path)
	require.NoError(t, err)
	assert.Equal(t, "master0", cluster.Master.Hostname)
	assert.Equal(t, -1, cluster.Master.Rank)
	require.Equal(t, 2, cluster.WorkerCount())
	assert.Equal(t, 0, cluster.Workers[0].Rank)
	assert.Equal(t, 7002, cluster.Workers[1].TCPPort)
	assert.Equal(t, 8002, cluster.Workers[1].RDMAPort)
}

func Test_ParseHostfile_BadLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("master0:7000\nworker1:7001:8001\n"), 0644))
	_, err := ParseHostfile(path)
	assert.Error(t, err)
}

func Test_Tunables(t *testing.T) {
	var tun Tunables
	assert.True(t, tun.Set("caching", true))
	assert.True(t, tun.Set("indexing", true))
	assert.False(t, tun.Set("warp_drive", true))
	assert.True(t, tun.SetInt("index_ratio", 5))
	snap := tun.Snapshot()
	assert.True(t, snap.EnableCache)
	assert.True(t, snap.EnableIndex)
	assert.False(t, snap.EnableStepReorder)
	assert.Equal(t, 5, snap.IndexRatio)
}
