package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vortexlab/vortex/internal/model"
)

// jsonStore persists the session map to a single JSON file, session-id →
// VmSession (spec §6 "Persisted state"). Writes go to a temp file in the
// same directory followed by an atomic rename, so a crash mid-write never
// leaves a torn sessions.json behind for the next startup to choke on.
type jsonStore struct {
	path string
}

func newJSONStore(path string) *jsonStore {
	return &jsonStore{path: path}
}

// load reads the sessions file. A missing file returns an empty map and no
// error; a malformed file returns an empty map and the parse error, leaving
// the caller to decide how to log it (spec §4.3 "never block startup").
func (s *jsonStore) load() (map[string]*model.VmSession, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]*model.VmSession), nil
	}
	if err != nil {
		return make(map[string]*model.VmSession), err
	}

	var sessions map[string]*model.VmSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return make(map[string]*model.VmSession), err
	}
	if sessions == nil {
		sessions = make(map[string]*model.VmSession)
	}
	return sessions, nil
}

// save writes sessions to disk atomically.
func (s *jsonStore) save(sessions map[string]*model.VmSession) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
