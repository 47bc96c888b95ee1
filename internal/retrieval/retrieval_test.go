package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/peardrive/peardrive/internal/bridge"
	"github.com/peardrive/peardrive/internal/catalog"
	"github.com/peardrive/peardrive/internal/crypto"
)

// fakeCatalog serves trees from in-memory maps.
type fakeCatalog struct {
	folders map[int64]catalog.Folder
	files   map[int64][]catalog.FileRef // by folder id
	objects map[string]catalog.FileRef  // by object id
}

func (c *fakeCatalog) FolderByID(_ context.Context, id int64) (*catalog.Folder, error) {
	f, ok := c.folders[id]
	if !ok {
		return nil, fmt.Errorf("folder %d: %w", id, catalog.ErrNotFound)
	}
	return &f, nil
}

func (c *fakeCatalog) Subfolders(_ context.Context, id int64) ([]catalog.Folder, error) {
	var out []catalog.Folder
	for _, f := range c.folders {
		if f.ParentID == id {
			out = append(out, f)
		}
	}
	return out, nil
}

func (c *fakeCatalog) FilesInFolder(_ context.Context, id int64) ([]catalog.FileRef, error) {
	return c.files[id], nil
}

func (c *fakeCatalog) FileByObjectID(_ context.Context, objectID string) (*catalog.FileRef, error) {
	f, ok := c.objects[objectID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", objectID, catalog.ErrNotFound)
	}
	return &f, nil
}

// fakeBridge counts fetches and writes canned content to destPath.
type fakeBridge struct {
	mu      sync.Mutex
	content map[string][]byte // object id -> bytes
	failOn  map[string]error  // object id -> injected failure
	fetches atomic.Int64
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		content: make(map[string][]byte),
		failOn:  make(map[string]error),
	}
}

func (b *fakeBridge) Fetch(_ context.Context, _, objectID, destPath string, _ bridge.Credentials, onProgress bridge.ProgressFunc) error {
	b.fetches.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failOn[objectID]; ok {
		return err
	}
	data, ok := b.content[objectID]
	if !ok {
		return bridge.ErrNotFound
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(int64(len(data)))
	}
	return nil
}

func (b *fakeBridge) Delete(context.Context, string, string, bridge.Credentials) error {
	return nil
}

func (b *fakeBridge) List(context.Context, string, bridge.Credentials) ([]bridge.ObjectInfo, error) {
	return nil, nil
}

var testCreds = bridge.Credentials{AccessKey: "ak", SecretKey: "sk"}

// buildFixture returns a service over a tree:
//
//	Photos/ (id 1)
//	  beach.jpg
//	  Trips/ (id 2)
//	    map.pdf
//	    notes
func buildFixture(t *testing.T, br *fakeBridge) (*Service, *fakeCatalog, string) {
	t.Helper()
	names := crypto.NewNameCipher("test-secret")
	enc := func(name string, ctxKey int64) string {
		stored, err := names.EncryptName(name, strconv.FormatInt(ctxKey, 10))
		if err != nil {
			t.Fatal(err)
		}
		return stored
	}

	cat := &fakeCatalog{
		folders: map[int64]catalog.Folder{
			1: {ID: 1, StoredName: enc("Photos", 0), ParentID: 0, Bucket: "b1"},
			2: {ID: 2, StoredName: enc("Trips", 1), ParentID: 1, Bucket: "b1"},
		},
		files: map[int64][]catalog.FileRef{
			1: {{ID: 10, Bucket: "b1", ObjectID: "obj-beach", FolderID: 1, StoredName: enc("beach", 1), Type: "jpg", Size: 4}},
			2: {
				{ID: 11, Bucket: "b1", ObjectID: "obj-map", FolderID: 2, StoredName: enc("map", 2), Type: "pdf", Size: 6},
				{ID: 12, Bucket: "b1", ObjectID: "obj-notes", FolderID: 2, StoredName: enc("notes", 2), Type: "", Size: 5},
			},
		},
		objects: make(map[string]catalog.FileRef),
	}
	for _, refs := range cat.files {
		for _, ref := range refs {
			cat.objects[ref.ObjectID] = ref
		}
	}

	br.content["obj-beach"] = []byte("JPEG")
	br.content["obj-map"] = []byte("%PDF-1")
	br.content["obj-notes"] = []byte("hello")

	stagingRoot := t.TempDir()
	svc := NewService(cat, br, names, NewStagingManager(stagingRoot), 2)
	return svc, cat, stagingRoot
}

// waitGone polls until path no longer exists; cleanup is asynchronous.
func waitGone(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("path still exists after release: %s", path)
}

func stagingEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRetrieveFileRoundTrip(t *testing.T) {
	br := newFakeBridge()
	svc, _, root := buildFixture(t, br)

	dl, err := svc.RetrieveFile(context.Background(), "obj-beach", testCreds, nil)
	if err != nil {
		t.Fatal(err)
	}

	if dl.Name != "beach.jpg" {
		t.Errorf("name: got %q, want beach.jpg", dl.Name)
	}
	if dl.MIME != "image/jpeg" {
		t.Errorf("mime: got %q", dl.MIME)
	}
	data, err := io.ReadAll(dl)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "JPEG" {
		t.Errorf("content: got %q", data)
	}
	if dl.Size != int64(len(data)) {
		t.Errorf("size: got %d, want %d", dl.Size, len(data))
	}

	if err := dl.Close(); err != nil {
		t.Fatal(err)
	}
	for _, e := range stagingEntries(t, root) {
		waitGone(t, filepath.Join(root, e))
	}
}

func TestRetrieveFileLiteralNullID(t *testing.T) {
	br := newFakeBridge()
	svc, _, _ := buildFixture(t, br)

	_, err := svc.RetrieveFile(context.Background(), "null", testCreds, nil)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := br.fetches.Load(); n != 0 {
		t.Errorf("expected no fetch attempts, got %d", n)
	}
}

func TestRetrieveFileUnknownID(t *testing.T) {
	br := newFakeBridge()
	svc, _, _ := buildFixture(t, br)

	_, err := svc.RetrieveFile(context.Background(), "obj-nope", testCreds, nil)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := br.fetches.Load(); n != 0 {
		t.Errorf("expected no fetch attempts, got %d", n)
	}
}

func TestRetrieveFileStageHooks(t *testing.T) {
	br := newFakeBridge()
	svc, _, _ := buildFixture(t, br)

	var stages []string
	dl, err := svc.RetrieveFile(context.Background(), "obj-notes", testCreds, &FileOptions{
		OnFetchStart: func() { stages = append(stages, "fetch") },
		OnFetched:    func() { stages = append(stages, "fetched") },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Close()

	if len(stages) != 2 || stages[0] != "fetch" || stages[1] != "fetched" {
		t.Errorf("stages: got %v", stages)
	}
	if dl.Name != "notes" {
		t.Errorf("extensionless name: got %q", dl.Name)
	}
	if dl.MIME != "application/octet-stream" {
		t.Errorf("extensionless mime: got %q", dl.MIME)
	}
}

func TestRetrieveFileFetchFailureReleasesStaging(t *testing.T) {
	br := newFakeBridge()
	svc, _, root := buildFixture(t, br)
	br.failOn["obj-beach"] = errors.New("disk error")

	_, err := svc.RetrieveFile(context.Background(), "obj-beach", testCreds, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, e := range stagingEntries(t, root) {
		waitGone(t, filepath.Join(root, e))
	}
}

func TestRetrieveFolderArchiveLayout(t *testing.T) {
	br := newFakeBridge()
	svc, _, root := buildFixture(t, br)

	var sizeSeen int64
	var nameSeen string
	dl, err := svc.RetrieveFolder(context.Background(), 1, testCreds, &FolderOptions{
		OnSizeKnown: func(n int64) { sizeSeen = n },
		OnNameKnown: func(n string) { nameSeen = n },
	})
	if err != nil {
		t.Fatal(err)
	}

	if sizeSeen != 15 {
		t.Errorf("size hook: got %d, want 15", sizeSeen)
	}
	if nameSeen != "Photos.zip" {
		t.Errorf("name hook: got %q", nameSeen)
	}
	if dl.Name != "Photos.zip" {
		t.Errorf("archive name: got %q", dl.Name)
	}
	if dl.MIME != "application/zip" {
		t.Errorf("archive mime: got %q", dl.MIME)
	}

	// Drain the archive to a temp file so we can open it as a zip.
	tmp := filepath.Join(t.TempDir(), "out.zip")
	out, err := os.Create(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(out, dl); err != nil {
		t.Fatal(err)
	}
	out.Close()
	dl.Close()

	zr, err := zip.OpenReader(tmp)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	got := make(map[string]string)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		got[f.Name] = string(data)
	}

	want := map[string]string{
		"Photos/beach.jpg":     "JPEG",
		"Photos/Trips/map.pdf": "%PDF-1",
		"Photos/Trips/notes":   "hello",
	}
	if len(got) != len(want) {
		t.Fatalf("entries: got %v, want %v", got, want)
	}
	for name, content := range want {
		if got[name] != content {
			t.Errorf("entry %s: got %q, want %q", name, got[name], content)
		}
	}

	for _, e := range stagingEntries(t, root) {
		waitGone(t, filepath.Join(root, e))
	}
}

func TestRetrieveFolderTooLargeNeverFetches(t *testing.T) {
	br := newFakeBridge()
	svc, cat, root := buildFixture(t, br)

	// Inflate one file past the limit.
	refs := cat.files[2]
	refs[0].Size = MaxBundleBytes + 1
	cat.files[2] = refs

	_, err := svc.RetrieveFolder(context.Background(), 1, testCreds, nil)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if n := br.fetches.Load(); n != 0 {
		t.Errorf("size guard must precede fetching: %d fetches issued", n)
	}
	if entries := stagingEntries(t, root); len(entries) != 0 {
		t.Errorf("no staging dir may be created for oversized trees: %v", entries)
	}
}

func TestRetrieveFolderBoundaryAtLimit(t *testing.T) {
	br := newFakeBridge()
	svc, cat, _ := buildFixture(t, br)

	// Exactly at the limit is allowed.
	refs := cat.files[1]
	refs[0].Size = MaxBundleBytes - 11 // other two files total 11
	cat.files[1] = refs

	dl, err := svc.RetrieveFolder(context.Background(), 1, testCreds, nil)
	if err != nil {
		t.Fatalf("tree at limit must pass the guard: %v", err)
	}
	dl.Close()
}

func TestRetrieveFolderRateLimitClassification(t *testing.T) {
	for _, objectID := range []string{"obj-beach", "obj-notes"} {
		br := newFakeBridge()
		svc, _, root := buildFixture(t, br)
		br.failOn[objectID] = fmt.Errorf("provider says: %w", bridge.ErrRateLimited)

		_, err := svc.RetrieveFolder(context.Background(), 1, testCreds, nil)
		if err == nil {
			t.Fatalf("%s: expected error", objectID)
		}
		if kind := bridge.Classify(err); kind != bridge.KindRateLimited {
			t.Errorf("%s: classified %v, want KindRateLimited", objectID, kind)
		}
		for _, e := range stagingEntries(t, root) {
			waitGone(t, filepath.Join(root, e))
		}
	}
}

func TestRetrieveFolderUnknownRoot(t *testing.T) {
	br := newFakeBridge()
	svc, _, _ := buildFixture(t, br)

	_, err := svc.RetrieveFolder(context.Background(), 999, testCreds, nil)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveTreeShape(t *testing.T) {
	br := newFakeBridge()
	svc, _, _ := buildFixture(t, br)

	tree, err := svc.ResolveTree(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Folder.ID != 1 {
		t.Errorf("root id: got %d", tree.Folder.ID)
	}
	if len(tree.Files) != 1 || len(tree.Children) != 1 {
		t.Fatalf("root shape: %d files, %d children", len(tree.Files), len(tree.Children))
	}
	if tree.FileCount() != 3 {
		t.Errorf("file count: got %d, want 3", tree.FileCount())
	}
	if tree.TotalSize() != 15 {
		t.Errorf("total size: got %d, want 15", tree.TotalSize())
	}
}
