package twins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Registry tracks which student ids belong to look-alike groups. Groups are
// persisted as a JSON map of group key to member ids. A group only takes
// effect once it has at least two members; a single-member group is a pending
// pairing waiting for its counterpart to enroll.
type Registry struct {
	mu   sync.Mutex
	path string
}

// NewRegistry creates a registry persisting to path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// IsTwin reports whether id belongs to a group with two or more members.
func (r *Registry) IsTwin(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups, err := r.load()
	if err != nil {
		return false, err
	}
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		for _, member := range members {
			if member == id {
				return true, nil
			}
		}
	}
	return false, nil
}

// Assign adds id to the first group still waiting for a second member, or
// starts a new group keyed by the id itself.
func (r *Registry) Assign(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups, err := r.load()
	if err != nil {
		return err
	}
	for key, members := range groups {
		for _, member := range members {
			if member == id {
				return nil // already assigned
			}
		}
		if len(members) < 2 {
			groups[key] = append(members, id)
			return r.save(groups)
		}
	}
	groups[id] = []string{id}
	return r.save(groups)
}

// Remove drops id from its group. A group left with fewer than two members
// is pruned entirely.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups, err := r.load()
	if err != nil {
		return err
	}

	changed := false
	for key, members := range groups {
		kept := members[:0]
		for _, member := range members {
			if member != id {
				kept = append(kept, member)
			}
		}
		if len(kept) == len(members) {
			continue
		}
		changed = true
		if len(kept) < 2 {
			delete(groups, key)
		} else {
			groups[key] = kept
		}
	}
	if !changed {
		return nil
	}
	return r.save(groups)
}

// Groups returns a copy of all persisted groups, pending ones included.
func (r *Registry) Groups() (map[string][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(groups))
	for key, members := range groups {
		out[key] = append([]string(nil), members...)
	}
	return out, nil
}

func (r *Registry) load() (map[string][]string, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string][]string), nil
		}
		return nil, fmt.Errorf("read twins file: %w", err)
	}
	groups := make(map[string][]string)
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("parse twins file: %w", err)
	}
	return groups, nil
}

func (r *Registry) save(groups map[string][]string) error {
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create twins dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write twins file: %w", err)
	}
	return os.Rename(tmp, r.path)
}
