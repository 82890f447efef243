package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	s := NewStore(t.TempDir())

	entries := []Entry{
		{Role: RoleHuman, Content: "hi"},
		{Role: RoleAI, Content: "hello there"},
	}
	require.NoError(t, s.Save("web:default", entries))

	loaded, err := s.Load("web:default")
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestLoadMissingFileIsEmptyHistory(t *testing.T) {
	s := NewStore(t.TempDir())

	loaded, err := s.Load("never-saved")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadCorruptFileFails(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history_bad.json"), []byte("{not json"), 0644))

	_, err := s.Load("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse history")
}

func TestEmptyDirDisablesPersistence(t *testing.T) {
	s := NewStore("")

	require.NoError(t, s.Save("anything", []Entry{{Role: RoleHuman, Content: "hi"}}))
	loaded, err := s.Load("anything")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestConversationIDSanitizedForFilename(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.Save("telegram:12345/../evil", []Entry{{Role: RoleAI, Content: "x"}}))

	matches, err := filepath.Glob(filepath.Join(dir, "history_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "history_telegram_12345____evil.json", filepath.Base(matches[0]))

	loaded, err := s.Load("telegram:12345/../evil")
	require.NoError(t, err)
	assert.Equal(t, "x", loaded[0].Content)
}

func TestSaveOverwritesPrevious(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.Save("c", []Entry{{Role: RoleHuman, Content: "one"}}))
	require.NoError(t, s.Save("c", []Entry{{Role: RoleHuman, Content: "two"}}))

	loaded, err := s.Load("c")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "two", loaded[0].Content)
}
