package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeID(t *testing.T) {
	assert.Equal(t, ComputeID("nice bot"), ComputeID("nice bot"))
	assert.NotEqual(t, ComputeID("nice bot"), ComputeID("Nice bot"), "no case folding")
	assert.NotEqual(t, ComputeID("nice bot"), ComputeID("nice bot "), "no trimming")
	assert.Len(t, ComputeID(""), 64)
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ComputeID("abc"))
}

func TestEnqueueWritesRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "queue")

	item, err := Enqueue("nice bot", "manual://test", "manual", dir)
	require.NoError(t, err)
	assert.Equal(t, ComputeID("nice bot"), item.ID)

	data, err := os.ReadFile(filepath.Join(dir, item.ID+".json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, item.ID, raw["id"])
	assert.Equal(t, "manual://test", raw["url"])
	assert.Equal(t, "nice bot", raw["comment"])
	assert.Equal(t, "manual", raw["matched_pattern"])
	assert.NotContains(t, raw, "reply_text")

	ts, err := time.Parse(time.RFC3339Nano, raw["timestamp"].(string))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestEnqueueIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	restore := now
	t.Cleanup(func() { now = restore })

	now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	first, err := Enqueue("same text", "u1", "keyword:bot", dir)
	require.NoError(t, err)

	now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	second, err := Enqueue("same text", "u1", "keyword:bot", dir)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	loaded, err := LoadByID(dir, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "same text", loaded.Comment)
	assert.Equal(t, "2024-01-02T00:00:00Z", loaded.Timestamp)

	paths, err := ListItems(dir)
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestEnqueueUnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Enqueue("text", "", "manual", filepath.Join(blocker, "queue"))
	assert.ErrorIs(t, err, ErrStoreIO)
}

func TestSaveItemKeepsReply(t *testing.T) {
	dir := t.TempDir()
	item, err := Enqueue("hello", "", "manual", dir)
	require.NoError(t, err)

	item.ReplyText = "hi there"
	require.NoError(t, SaveItem(dir, item))

	loaded, err := LoadByID(dir, item.ID)
	require.NoError(t, err)
	assert.True(t, loaded.HasReply())
	assert.Equal(t, "hi there", loaded.ReplyText)
}

func TestListItemsSkipsManifestsAndDirs(t *testing.T) {
	dir := t.TempDir()
	a, err := Enqueue("a", "", "manual", dir)
	require.NoError(t, err)
	b, err := Enqueue("b", "", "manual", dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(ItemDir(dir, a.ID), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, a.ID+".meta.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	paths, err := ListItems(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.ElementsMatch(t, []string{ItemPath(dir, a.ID), ItemPath(dir, b.ID)}, paths)
	assert.True(t, paths[0] < paths[1], "sorted")
}

func TestListItemsMissingDir(t *testing.T) {
	paths, err := ListItems(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLoadItemMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadItem(path)
	assert.ErrorIs(t, err, ErrStoreIO)
}

func TestSeenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "seen_comments.json")

	set, err := LoadSeen(path)
	require.NoError(t, err, "missing file is an empty set")
	assert.Empty(t, set)

	set.Add("b")
	set.Add("a")
	require.NoError(t, SaveSeen(path, set))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal(data, &ids))
	assert.Equal(t, []string{"a", "b"}, ids)

	// Full replace, not append.
	require.NoError(t, SaveSeen(path, NewSeenSet("c")))
	reloaded, err := LoadSeen(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Has("c"))
	assert.False(t, reloaded.Has("a"))
}

func TestLoadSeenMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	_, err := LoadSeen(path)
	assert.ErrorIs(t, err, ErrStoreIO)
}

func TestLockSeenIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")

	release, err := LockSeen(path)
	require.NoError(t, err)

	_, err = LockSeen(path)
	assert.ErrorIs(t, err, ErrSeenLocked)

	release()
	again, err := LockSeen(path)
	require.NoError(t, err)
	again()
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{Video: "v.mp4", WAV: "reply.wav", Reply: "hi", Frames: 18}
	require.NoError(t, WriteManifest(dir, "abc", m))

	data, err := os.ReadFile(filepath.Join(dir, "abc.meta.json"))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "v.mp4", raw["video"])
	assert.Equal(t, "reply.wav", raw["wav"])
	assert.Equal(t, "hi", raw["reply"])

	got, err := ReadManifest(dir, "abc")
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
