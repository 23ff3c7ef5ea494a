package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinylittleshell/gsh-agent/internal/evidence"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func rec(tool, callID string, success bool) evidence.ToolCallRecord {
	return evidence.ToolCallRecord{Tool: tool, CallID: callID, Success: success, Timestamp: time.Unix(1700000000, 0).UTC()}
}

func TestStore_RecordAndEvidence(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	runRecords := []evidence.ToolCallRecord{
		rec("view_file", "call_1", true),
		rec("exec", "call_2", true),
		rec("edit_file", "call_3", true),
		rec("exec", "call_4", false),
	}
	for _, r := range runRecords {
		require.NoError(t, s.Record(ctx, "run-a", "primary", r))
	}
	require.NoError(t, s.Record(ctx, "run-b", "explorer", rec("grep", "call_9", true)))

	got, err := s.RunRecords(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := range runRecords {
		assert.Equal(t, runRecords[i].Tool, got[i].Tool)
		assert.Equal(t, runRecords[i].CallID, got[i].CallID)
		assert.Equal(t, runRecords[i].Success, got[i].Success)
		assert.True(t, runRecords[i].Timestamp.Equal(got[i].Timestamp))
	}

	stored, err := s.Evidence(ctx, "run-a", false)
	require.NoError(t, err)
	assert.Equal(t, evidence.Compute(runRecords, false).Summary, stored.Summary)
	assert.Contains(t, stored.Summary, "Total tool calls: 4")

	other, err := s.Evidence(ctx, "run-b", true)
	require.NoError(t, err)
	assert.Equal(t, 1, other.TotalCalls)
	assert.Contains(t, other.Summary, "subagents cannot delegate")
}

func TestStore_UnknownRunIsEmpty(t *testing.T) {
	s, _ := openTestStore(t)

	records, err := s.RunRecords(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_RecentEntries(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"call_1", "call_2", "call_3"} {
		require.NoError(t, s.Record(ctx, "run", "primary", rec("grep", id, true)))
	}

	entries, err := s.RecentEntries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "call_2", entries[0].CallID)
	assert.Equal(t, "call_3", entries[1].CallID)
	assert.Equal(t, "primary", entries[1].Agent)
}

func TestStore_Prune(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "run", "primary", rec("grep", "call_1", true)))
	require.NoError(t, s.Record(ctx, "run", "primary", rec("grep", "call_2", true)))

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := s.RecentEntries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_ReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, "run", "primary", rec("exec", "call_1", false)))
	require.NoError(t, s.Close())

	version, err := os.ReadFile(filepath.Join(dir, "audit_schema_version"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(version))

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	records, err := s.RunRecords(ctx, "run")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
}

func TestStore_MigratesWhenVersionMarkerIsStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "audit_schema_version"), []byte("0"), 0644))

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.db.Migrator().HasTable(&Entry{}))

	version, err := os.ReadFile(filepath.Join(dir, "audit_schema_version"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(version))
}

func TestOpen_FailedMigrationReleasesDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")
	versionPath := filepath.Join(dir, "audit_schema_version")

	// A directory where the version marker belongs makes the write fail.
	require.NoError(t, os.Mkdir(versionPath, 0755))

	s, err := Open(path)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "error writing audit schema version")

	require.NoError(t, os.Remove(versionPath))

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.db.Migrator().HasTable(&Entry{}))
}
