package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
volumes:
  - apiVersion: repvol/v1
    kind: Volume
    metadata:
      name: apply-vol
    spec:
      blockSize: 4096
      numBlocks: 512
      targetReplicas: 1
      replicas:
        - pool: pool0
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volumes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestApplyFileCreatesVolumeAndReplica(t *testing.T) {
	srv := newTestServer(t)
	path := writeManifest(t, testManifest)

	err := applyFile(context.Background(), srv, path)
	require.NoError(t, err)

	info, err := srv.inspect(context.Background(), "apply-vol")
	require.NoError(t, err)
	assert.Equal(t, 1, info.State) // StateOnline once its one replica is discovered
	assert.Equal(t, 1, info.DiscoveredReplicas)
}

func TestApplyFileIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	path := writeManifest(t, testManifest)

	require.NoError(t, applyFile(context.Background(), srv, path))
	// Re-applying the same manifest must not fail just because the volume
	// already exists; applyVolume should skip creation and keep going.
	require.NoError(t, applyFile(context.Background(), srv, path))
}

func TestApplyFileRejectsUnknownKind(t *testing.T) {
	srv := newTestServer(t)
	path := writeManifest(t, `
volumes:
  - apiVersion: repvol/v1
    kind: Widget
    metadata:
      name: whatever
`)

	err := applyFile(context.Background(), srv, path)
	assert.Error(t, err)
}

func TestApplyFileMissingFile(t *testing.T) {
	srv := newTestServer(t)
	err := applyFile(context.Background(), srv, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
