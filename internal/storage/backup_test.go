package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukstore/uks/internal/kgerr"
)

func newTestBackups(t *testing.T, retain int, compress bool) (*BackupManager, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := NewBackupManager(dir, retain, compress, nil)
	require.NoError(t, err)

	// Deterministic, strictly increasing snapshot timestamps.
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return b, dir
}

func writeGraphFile(t *testing.T, dir, context string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, graphFileName(context)), content, 0o644))
}

func TestSnapshotWithoutGraphFile(t *testing.T) {
	b, _ := newTestBackups(t, 5, false)

	path, err := b.CreateSnapshot("default")
	require.NoError(t, err)
	assert.Empty(t, path, "first-ever write has nothing to snapshot")
}

func TestSnapshotAndRestoreExactBytes(t *testing.T) {
	b, dir := newTestBackups(t, 5, false)
	original := []byte("{\"type\":\"_aim\"}\n{\"type\":\"entity\",\"name\":\"Redis\"}\n")
	writeGraphFile(t, dir, "default", original)

	path, err := b.CreateSnapshot("default")
	require.NoError(t, err)
	require.NotEmpty(t, path)

	writeGraphFile(t, dir, "default", []byte("overwritten\n"))
	require.NoError(t, b.RestoreLatest("default"))

	restored, err := os.ReadFile(filepath.Join(dir, graphFileName("default")))
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestRestoreLatestPicksNewest(t *testing.T) {
	b, dir := newTestBackups(t, 5, false)

	writeGraphFile(t, dir, "default", []byte("v1\n"))
	_, err := b.CreateSnapshot("default")
	require.NoError(t, err)

	writeGraphFile(t, dir, "default", []byte("v2\n"))
	_, err = b.CreateSnapshot("default")
	require.NoError(t, err)

	writeGraphFile(t, dir, "default", []byte("v3\n"))
	require.NoError(t, b.RestoreLatest("default"))

	restored, err := os.ReadFile(filepath.Join(dir, graphFileName("default")))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2\n"), restored)
}

func TestRestoreWithoutBackupIsNotFound(t *testing.T) {
	b, _ := newTestBackups(t, 5, false)

	err := b.RestoreLatest("default")
	require.Error(t, err)
	assert.True(t, kgerr.IsNotFound(err))
}

func TestRetentionNeverExceeded(t *testing.T) {
	b, dir := newTestBackups(t, 2, false)
	writeGraphFile(t, dir, "default", []byte("content\n"))

	for i := 0; i < 7; i++ {
		_, err := b.CreateSnapshot("default")
		require.NoError(t, err)

		names, err := b.list("default")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(names), 2)
	}
}

func TestPruneDoesNotCrossContexts(t *testing.T) {
	b, dir := newTestBackups(t, 1, false)
	writeGraphFile(t, dir, "a", []byte("a\n"))
	writeGraphFile(t, dir, "a-b", []byte("ab\n"))

	_, err := b.CreateSnapshot("a-b")
	require.NoError(t, err)

	// Several writes to "a" prune only "a" snapshots; "a-b" keeps its one.
	for i := 0; i < 3; i++ {
		_, err = b.CreateSnapshot("a")
		require.NoError(t, err)
	}

	abNames, err := b.list("a-b")
	require.NoError(t, err)
	assert.Len(t, abNames, 1)

	aNames, err := b.list("a")
	require.NoError(t, err)
	assert.Len(t, aNames, 1)
}

func TestCompressedSnapshotRoundtrip(t *testing.T) {
	b, dir := newTestBackups(t, 5, true)
	original := []byte("{\"type\":\"_aim\"}\n{\"type\":\"entity\",\"name\":\"Postgres\"}\n")
	writeGraphFile(t, dir, "default", original)

	path, err := b.CreateSnapshot("default")
	require.NoError(t, err)
	assert.Contains(t, path, ".jsonl.zst")

	writeGraphFile(t, dir, "default", []byte("scrambled\n"))
	require.NoError(t, b.RestoreLatest("default"))

	restored, err := os.ReadFile(filepath.Join(dir, graphFileName("default")))
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}
