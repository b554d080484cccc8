package gallery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotFound means no student with the given id is enrolled.
	ErrNotFound = errors.New("student not found")
	// ErrDuplicateID means the id is already taken by another student.
	ErrDuplicateID = errors.New("student id already in use")
	// ErrNoImages means an enrollment was attempted without reference images.
	ErrNoImages = errors.New("at least one image is required")
)

const manifestFile = "students.json"

// Student is an enrolled student. The id is stable; the display name may change.
type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Gallery is a directory-backed collection of per-student reference images.
// Each student owns a folder named by id; the id-to-name mapping lives in a
// manifest file next to the folders. Every mutation bumps the generation
// counter so cached embedding indexes know to rebuild.
type Gallery struct {
	mu   sync.Mutex
	root string
	gen  atomic.Uint64
}

// Open prepares a gallery rooted at dir, creating it if needed.
func Open(dir string) (*Gallery, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create gallery dir: %w", err)
	}
	g := &Gallery{root: dir}
	g.gen.Store(1)
	return g, nil
}

// Generation returns the current mutation counter. It changes whenever the
// set of students or their images changes.
func (g *Gallery) Generation() uint64 {
	return g.gen.Load()
}

// Enroll registers a new student with the given reference images.
func (g *Gallery) Enroll(id, name string, images [][]byte) error {
	id, name = strings.TrimSpace(id), strings.TrimSpace(name)
	if id == "" || name == "" {
		return errors.New("student id and name are required")
	}
	if len(images) == 0 {
		return ErrNoImages
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	manifest, err := g.loadManifest()
	if err != nil {
		return err
	}
	if _, exists := manifest[id]; exists {
		return ErrDuplicateID
	}

	dir := filepath.Join(g.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create student dir: %w", err)
	}
	if err := writeImages(dir, images); err != nil {
		return err
	}

	manifest[id] = name
	if err := g.saveManifest(manifest); err != nil {
		return err
	}
	g.gen.Add(1)
	return nil
}

// AddImages appends reference images to an existing student.
func (g *Gallery) AddImages(id string, images [][]byte) error {
	if len(images) == 0 {
		return ErrNoImages
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	manifest, err := g.loadManifest()
	if err != nil {
		return err
	}
	if _, exists := manifest[id]; !exists {
		return ErrNotFound
	}
	if err := writeImages(filepath.Join(g.root, id), images); err != nil {
		return err
	}
	g.gen.Add(1)
	return nil
}

// Rename changes a student's display name. The id stays stable.
func (g *Gallery) Rename(id, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return errors.New("new name is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	manifest, err := g.loadManifest()
	if err != nil {
		return err
	}
	if _, exists := manifest[id]; !exists {
		return ErrNotFound
	}
	manifest[id] = newName
	if err := g.saveManifest(manifest); err != nil {
		return err
	}
	g.gen.Add(1)
	return nil
}

// Delete removes a student's folder and manifest entry.
func (g *Gallery) Delete(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	manifest, err := g.loadManifest()
	if err != nil {
		return err
	}
	if _, exists := manifest[id]; !exists {
		return ErrNotFound
	}
	if err := os.RemoveAll(filepath.Join(g.root, id)); err != nil {
		return fmt.Errorf("remove student dir: %w", err)
	}
	delete(manifest, id)
	if err := g.saveManifest(manifest); err != nil {
		return err
	}
	g.gen.Add(1)
	return nil
}

// Get returns the student with the given id.
func (g *Gallery) Get(id string) (Student, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	manifest, err := g.loadManifest()
	if err != nil {
		return Student{}, false
	}
	name, ok := manifest[id]
	if !ok {
		return Student{}, false
	}
	return Student{ID: id, Name: name}, true
}

// List returns all enrolled students sorted by display name.
func (g *Gallery) List() ([]Student, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	manifest, err := g.loadManifest()
	if err != nil {
		return nil, err
	}
	students := make([]Student, 0, len(manifest))
	for id, name := range manifest {
		students = append(students, Student{ID: id, Name: name})
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].Name == students[j].Name {
			return students[i].ID < students[j].ID
		}
		return students[i].Name < students[j].Name
	})
	return students, nil
}

// Names returns the display names of all enrolled students, sorted.
func (g *Gallery) Names() ([]string, error) {
	students, err := g.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(students))
	for i, s := range students {
		names[i] = s.Name
	}
	return names, nil
}

// ImagePaths returns the sorted reference image paths for a student.
func (g *Gallery) ImagePaths(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	manifest, err := g.loadManifest()
	if err != nil {
		return nil, err
	}
	if _, exists := manifest[id]; !exists {
		return nil, ErrNotFound
	}

	entries, err := os.ReadDir(filepath.Join(g.root, id))
	if err != nil {
		return nil, fmt.Errorf("read student dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(g.root, id, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func writeImages(dir string, images [][]byte) error {
	stamp := time.Now().Format("20060102150405")
	for i, img := range images {
		name := fmt.Sprintf("upload_%s_%d.jpg", stamp, i)
		if err := os.WriteFile(filepath.Join(dir, name), img, 0o644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
	}
	return nil
}

func (g *Gallery) loadManifest() (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(g.root, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("read gallery manifest: %w", err)
	}
	manifest := make(map[string]string)
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse gallery manifest: %w", err)
	}
	return manifest, nil
}

func (g *Gallery) saveManifest(manifest map[string]string) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(g.root, manifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write gallery manifest: %w", err)
	}
	return os.Rename(tmp, path)
}
