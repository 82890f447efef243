package history

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry roles as stored on disk. The memory layer maps them onto model
// roles (human → user, everything else → assistant).
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Entry is one persisted exchange line of a conversation.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// Store persists conversation histories as JSON files, one per
// conversation id, under a single directory.
type Store struct {
	dir string
}

// NewStore creates the storage directory if needed. An empty dir disables
// persistence: Load returns empty histories and Save is a no-op.
func NewStore(dir string) *Store {
	if dir != "" {
		os.MkdirAll(dir, 0755)
	}
	return &Store{dir: dir}
}

func (s *Store) path(conversationID string) string {
	safeID := filenameSafeRegex.ReplaceAllString(conversationID, "_")
	return filepath.Join(s.dir, fmt.Sprintf("history_%s.json", safeID))
}

// Load returns the stored entries for a conversation. A missing file is
// an empty history, not an error.
func (s *Store) Load(conversationID string) ([]Entry, error) {
	if s.dir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.path(conversationID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history for '%s': %w", conversationID, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse history for '%s': %w", conversationID, err)
	}
	return entries, nil
}

// Save writes the entries for a conversation, replacing any previous file.
func (s *Store) Save(conversationID string, entries []Entry) error {
	if s.dir == "" {
		return nil
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history for '%s': %w", conversationID, err)
	}
	if err := os.WriteFile(s.path(conversationID), data, 0644); err != nil {
		return fmt.Errorf("failed to write history for '%s': %w", conversationID, err)
	}
	return nil
}
