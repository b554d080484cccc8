package proof

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store persists proof-of-presence frames on disk, one folder per date with a
// subfolder per subject.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create proofs dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Save writes the proof frame for a successful mark and returns its path.
// Layout: <root>/YYYY-MM-DD/<subject>/<id>-<name>_HHMMSS.jpg
func (s *Store) Save(studentID, name, subject string, at time.Time, frame []byte) (string, error) {
	dir := filepath.Join(s.root, at.Format("2006-01-02"), sanitizeFilename(subject))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create proof dir: %w", err)
	}

	file := fmt.Sprintf("%s-%s_%s.jpg", studentID, sanitizeFilename(name), at.Format("150405"))
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return "", fmt.Errorf("write proof: %w", err)
	}
	return path, nil
}

// sanitizeFilename strips characters that are illegal in filenames.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " ")
}
