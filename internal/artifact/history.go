package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is one recorded version of an artifact, linked to its predecessor.
type Snapshot struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

// History keeps a bounded stack of artifact snapshots per artifact path.
type History struct {
	Dir   string
	Limit int // 0 = unlimited
}

type snapshotStack struct {
	Entries []Snapshot `json:"entries"`
}

func (s *snapshotStack) latest() *Snapshot {
	if len(s.Entries) == 0 {
		return nil
	}
	return &s.Entries[len(s.Entries)-1]
}

// Record stores text as the newest snapshot of the artifact at rel.
func (h *History) Record(rel, text string) (Snapshot, error) {
	dir := h.dirFor(rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Snapshot{}, err
	}
	stack, err := loadStack(filepath.Join(dir, "stack.json"))
	if err != nil {
		return Snapshot{}, err
	}

	parent := ""
	if latest := stack.latest(); latest != nil {
		parent = latest.ID
	}
	id := fmt.Sprintf("snap-%d-%d", time.Now().UnixNano(), len(stack.Entries)+1)
	snap := Snapshot{ID: id, ParentID: parent, FileName: id + ".txt", CreatedAt: time.Now().UTC()}
	if err := os.WriteFile(filepath.Join(dir, snap.FileName), []byte(text), 0o644); err != nil {
		return Snapshot{}, err
	}
	stack.Entries = append(stack.Entries, snap)

	if h.Limit > 0 && len(stack.Entries) > h.Limit {
		excess := stack.Entries[:len(stack.Entries)-h.Limit]
		for _, e := range excess {
			_ = os.Remove(filepath.Join(dir, e.FileName))
		}
		stack.Entries = append([]Snapshot(nil), stack.Entries[len(excess):]...)
		stack.Entries[0].ParentID = ""
	}
	if err := stack.save(filepath.Join(dir, "stack.json")); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// List returns snapshots of the artifact at rel, oldest first.
func (h *History) List(rel string) ([]Snapshot, error) {
	stack, err := loadStack(filepath.Join(h.dirFor(rel), "stack.json"))
	if err != nil {
		return nil, err
	}
	return stack.Entries, nil
}

// Load returns a snapshot and its content; an empty id selects the latest.
func (h *History) Load(rel, id string) (Snapshot, string, error) {
	dir := h.dirFor(rel)
	stack, err := loadStack(filepath.Join(dir, "stack.json"))
	if err != nil {
		return Snapshot{}, "", err
	}
	if len(stack.Entries) == 0 {
		return Snapshot{}, "", fmt.Errorf("no snapshots recorded for %s", rel)
	}
	target := *stack.latest()
	if id != "" {
		found := false
		for _, e := range stack.Entries {
			if e.ID == id || e.FileName == id {
				target, found = e, true
				break
			}
		}
		if !found {
			return Snapshot{}, "", fmt.Errorf("snapshot %s not found for %s", id, rel)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, target.FileName))
	if err != nil {
		return Snapshot{}, "", err
	}
	return target, string(data), nil
}

// dirFor maps an artifact path onto one flat, reversible directory name.
func (h *History) dirFor(rel string) string {
	return filepath.Join(h.Dir, url.PathEscape(filepath.ToSlash(rel)))
}

func loadStack(path string) (*snapshotStack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &snapshotStack{}, nil
		}
		return nil, err
	}
	var st snapshotStack
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *snapshotStack) save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
