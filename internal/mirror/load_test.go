package mirror

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/chatkeeper/internal/models"
)

func writeLines(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func mirrorLine(t *testing.T, m models.MirrorMessage) string {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return string(raw)
}

func TestLoadFromMirror_ReconstructionFidelity(t *testing.T) {
	cfg := testConfig(t)
	s, _ := grantedStore(t, cfg)
	ctx := context.Background()

	// all three messages share one timestamp; only the replay position
	// can restore the original order
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	chat := models.ChatRecord{
		ID:    "c1",
		Title: "ordering",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "m0", Timestamp: ts},
			{Role: models.RoleAssistant, Content: "m1", Timestamp: ts},
			{Role: models.RoleUser, Content: "m2", Timestamp: ts},
		},
	}

	_, err := s.SyncAll(ctx, map[string]models.ChatRecord{"c1": chat})
	require.NoError(t, err)

	got, err := s.LoadFromMirror(ctx)
	require.NoError(t, err)
	require.Contains(t, got, "c1")
	require.Len(t, got["c1"].Messages, 3)
	assert.Equal(t, "m0", got["c1"].Messages[0].Content)
	assert.Equal(t, "m1", got["c1"].Messages[1].Content)
	assert.Equal(t, "m2", got["c1"].Messages[2].Content)
	assert.Equal(t, "ordering", got["c1"].Title)
	assert.Equal(t, ts, got["c1"].CreatedAt)
}

func TestLoadFromMirror_DeduplicatesAcrossFiles(t *testing.T) {
	cfg := testConfig(t)
	s, dir := grantedStore(t, cfg)

	// the same message replayed from two files under different mirror
	// ids collapses by role + timestamp + content prefix
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	writeLines(t, dir, "2025-03-01.jsonl",
		mirrorLine(t, models.MirrorMessage{
			ID: "c1-0", ChatID: "c1", ChatTitle: "t", Order: 0,
			Role: models.RoleUser, Content: "same text", Timestamp: ts,
		}),
	)
	writeLines(t, dir, "2025-03-02.jsonl",
		mirrorLine(t, models.MirrorMessage{
			ID: "c1-7", ChatID: "c1", ChatTitle: "t", Order: 0,
			Role: models.RoleUser, Content: "same text", Timestamp: ts,
		}),
		mirrorLine(t, models.MirrorMessage{
			ID: "c1-1", ChatID: "c1", ChatTitle: "t", Order: 1,
			Role: models.RoleAssistant, Content: "distinct", Timestamp: ts,
		}),
	)

	got, err := s.LoadFromMirror(context.Background())
	require.NoError(t, err)
	require.Contains(t, got, "c1")
	require.Len(t, got["c1"].Messages, 2)
	assert.Equal(t, "same text", got["c1"].Messages[0].Content)
	assert.Equal(t, "distinct", got["c1"].Messages[1].Content)
}

func TestLoadFromMirror_MergesExportForMissingChats(t *testing.T) {
	cfg := testConfig(t)
	s, dir := grantedStore(t, cfg)

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	writeLines(t, dir, "2025-03-01.jsonl",
		mirrorLine(t, models.MirrorMessage{
			ID: "log-0", ChatID: "log", ChatTitle: "from log", Order: 0,
			Role: models.RoleUser, Content: "log wins", Timestamp: ts,
		}),
	)

	export := map[string]any{
		"chats": map[string]models.ChatRecord{
			"log": {
				ID: "log", Title: "from export",
				Messages: []models.Message{{Role: models.RoleUser, Content: "export loses", Timestamp: ts}},
			},
			"only-export": {
				ID: "only-export", Title: "exported",
				Messages: []models.Message{
					{Role: models.RoleAssistant, Content: "later", Timestamp: ts + 5},
					{Role: models.RoleUser, Content: "earlier", Timestamp: ts},
				},
			},
		},
	}
	raw, err := json.Marshal(export)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup.json"), raw, 0o644))

	got, err := s.LoadFromMirror(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	// the line log is authoritative for ids it produced
	assert.Equal(t, "from log", got["log"].Title)
	require.Len(t, got["log"].Messages, 1)
	assert.Equal(t, "log wins", got["log"].Messages[0].Content)

	// export-only chats come in, ordered by timestamp (no replay position)
	require.Len(t, got["only-export"].Messages, 2)
	assert.Equal(t, "earlier", got["only-export"].Messages[0].Content)
	assert.Equal(t, "later", got["only-export"].Messages[1].Content)
}

func TestLoadFromMirror_SkipsMalformedLines(t *testing.T) {
	cfg := testConfig(t)
	s, dir := grantedStore(t, cfg)

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	writeLines(t, dir, "2025-03-01.jsonl",
		"{not json",
		mirrorLine(t, models.MirrorMessage{
			ID: "c1-0", ChatID: "c1", ChatTitle: "t", Order: 0,
			Role: models.RoleUser, Content: "survivor", Timestamp: ts,
		}),
		"",
	)

	got, err := s.LoadFromMirror(context.Background())
	require.NoError(t, err)
	require.Contains(t, got, "c1")
	require.Len(t, got["c1"].Messages, 1)
	assert.Equal(t, "survivor", got["c1"].Messages[0].Content)
}

func TestLoadFromMirror_SkipsEncryptedFilesWhileLocked(t *testing.T) {
	cfg := testConfig(t)
	s, _ := grantedStore(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.EnableEncryption([]byte("pass")))
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	_, err := s.SyncAll(ctx, map[string]models.ChatRecord{"a": sampleChat("a", ts)})
	require.NoError(t, err)

	// a locked session sees no chats but does not error out
	s2 := newTestStore(t, cfg)
	require.True(t, s2.NeedsUnlock())
	got, err := s2.LoadFromMirror(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
