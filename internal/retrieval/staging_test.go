package retrieval

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStagingAcquireCreatesUniqueDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "staging")
	m := NewStagingManager(root)

	s1, err := m.Acquire("tree-1-aaaa")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.Acquire("tree-2-bbbb")
	if err != nil {
		t.Fatal(err)
	}

	if s1.Dir() == s2.Dir() {
		t.Fatalf("sessions must not collide: %s", s1.Dir())
	}
	for _, s := range []*Session{s1, s2} {
		info, err := os.Stat(s.Dir())
		if err != nil || !info.IsDir() {
			t.Fatalf("session dir missing: %v", err)
		}
	}

	s1.Release()
	s2.Release()
	waitGone(t, s1.Dir())
	waitGone(t, s2.Dir())
}

func TestStagingReleaseIdempotent(t *testing.T) {
	m := NewStagingManager(t.TempDir())

	s, err := m.Acquire("file-x-cccc")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("blob"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	s.Release()
	s.Release() // second call must be a no-op
	waitGone(t, s.Dir())
}

func TestStagingPathStaysInsideSession(t *testing.T) {
	m := NewStagingManager(t.TempDir())

	s, err := m.Acquire("tree-7-dddd")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()

	p := s.Path("nested")
	if filepath.Dir(p) != s.Dir() {
		t.Errorf("path %s escapes session dir %s", p, s.Dir())
	}
}
