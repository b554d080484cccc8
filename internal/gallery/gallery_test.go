package gallery

import (
	"errors"
	"testing"
)

func img(b byte) []byte { return []byte{0xff, 0xd8, b} }

func newTestGallery(t *testing.T) *Gallery {
	t.Helper()
	g, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return g
}

func TestEnrollAndGet(t *testing.T) {
	g := newTestGallery(t)
	if err := g.Enroll("s1", "Alice", [][]byte{img(1), img(2)}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	student, ok := g.Get("s1")
	if !ok {
		t.Fatal("enrolled student not found")
	}
	if student.Name != "Alice" {
		t.Fatalf("name = %q, want Alice", student.Name)
	}

	paths, err := g.ImagePaths("s1")
	if err != nil {
		t.Fatalf("ImagePaths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d images, want 2", len(paths))
	}
}

func TestEnrollValidation(t *testing.T) {
	g := newTestGallery(t)
	if err := g.Enroll("", "Alice", [][]byte{img(1)}); err == nil {
		t.Fatal("empty id accepted")
	}
	if err := g.Enroll("s1", "", [][]byte{img(1)}); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := g.Enroll("s1", "Alice", nil); !errors.Is(err, ErrNoImages) {
		t.Fatalf("err = %v, want ErrNoImages", err)
	}
}

func TestEnrollDuplicateID(t *testing.T) {
	g := newTestGallery(t)
	if err := g.Enroll("s1", "Alice", [][]byte{img(1)}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := g.Enroll("s1", "Other", [][]byte{img(2)}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
}

func TestRenameKeepsID(t *testing.T) {
	g := newTestGallery(t)
	if err := g.Enroll("s1", "Alice", [][]byte{img(1)}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := g.Rename("s1", "Alicia"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	student, ok := g.Get("s1")
	if !ok || student.Name != "Alicia" {
		t.Fatalf("after rename got %+v, %v", student, ok)
	}
	if paths, err := g.ImagePaths("s1"); err != nil || len(paths) != 1 {
		t.Fatalf("images lost on rename: %v, %v", paths, err)
	}
	if err := g.Rename("nope", "X"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	g := newTestGallery(t)
	if err := g.Enroll("s1", "Alice", [][]byte{img(1)}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := g.Delete("s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := g.Get("s1"); ok {
		t.Fatal("deleted student still present")
	}
	if _, err := g.ImagePaths("s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := g.Delete("s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("repeat delete err = %v, want ErrNotFound", err)
	}
}

func TestListSortedByName(t *testing.T) {
	g := newTestGallery(t)
	for _, s := range []struct{ id, name string }{
		{"s3", "Carol"}, {"s1", "Alice"}, {"s2", "Bob"},
	} {
		if err := g.Enroll(s.id, s.name, [][]byte{img(1)}); err != nil {
			t.Fatalf("Enroll %s: %v", s.id, err)
		}
	}

	names, err := g.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	want := []string{"Alice", "Bob", "Carol"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestGenerationBumpsOnEveryMutation(t *testing.T) {
	g := newTestGallery(t)
	gen := g.Generation()

	check := func(op string, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		if next := g.Generation(); next <= gen {
			t.Fatalf("%s did not bump generation (%d -> %d)", op, gen, next)
		} else {
			gen = next
		}
	}

	check("Enroll", g.Enroll("s1", "Alice", [][]byte{img(1)}))
	check("AddImages", g.AddImages("s1", [][]byte{img(2)}))
	check("Rename", g.Rename("s1", "Alicia"))
	check("Delete", g.Delete("s1"))
}

func TestReadsDoNotBumpGeneration(t *testing.T) {
	g := newTestGallery(t)
	if err := g.Enroll("s1", "Alice", [][]byte{img(1)}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	gen := g.Generation()
	_, _ = g.Get("s1")
	_, _ = g.List()
	_, _ = g.ImagePaths("s1")
	if g.Generation() != gen {
		t.Fatal("read operations changed the generation")
	}
}
