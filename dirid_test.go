package cryptofs

import (
	"testing"

	"github.com/absfs/memfs"
)

func TestNewDirIDIsUnique(t *testing.T) {
	a := newDirID()
	b := newDirID()
	if a == b {
		t.Fatal("newDirID produced a collision")
	}
	if len(a) != 36 {
		t.Errorf("len(DirID) = %d, want 36", len(a))
	}
}

func TestDirIDStoreLookupAndStore(t *testing.T) {
	host, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	store := newDirIDStore(host, 4)

	if _, ok := store.lookup("/a"); ok {
		t.Fatal("lookup on empty store should miss")
	}

	id := newDirID()
	store.store("/a", id)
	got, ok := store.lookup("/a")
	if !ok || got != id {
		t.Fatalf("lookup(/a) = (%v, %v), want (%v, true)", got, ok, id)
	}
}

func TestDirIDStoreEvictsLeastRecentlyUsed(t *testing.T) {
	host, _ := memfs.NewFS()
	store := newDirIDStore(host, 2)

	store.store("/a", newDirID())
	store.store("/b", newDirID())
	// touch /a so /b becomes the least recently used entry
	store.lookup("/a")
	store.store("/c", newDirID())

	if _, ok := store.lookup("/b"); ok {
		t.Error("/b should have been evicted as least recently used")
	}
	if _, ok := store.lookup("/a"); !ok {
		t.Error("/a should still be cached")
	}
	if _, ok := store.lookup("/c"); !ok {
		t.Error("/c should still be cached")
	}
}

func TestDirIDStoreInvalidateDropsDescendants(t *testing.T) {
	host, _ := memfs.NewFS()
	store := newDirIDStore(host, 10)

	store.store("/a", newDirID())
	store.store("/a/b", newDirID())
	store.store("/a/b/c", newDirID())
	store.store("/other", newDirID())

	store.invalidate("/a")

	if _, ok := store.lookup("/a"); ok {
		t.Error("/a should be invalidated")
	}
	if _, ok := store.lookup("/a/b"); ok {
		t.Error("/a/b should be invalidated as a descendant")
	}
	if _, ok := store.lookup("/a/b/c"); ok {
		t.Error("/a/b/c should be invalidated as a descendant")
	}
	if _, ok := store.lookup("/other"); !ok {
		t.Error("/other should be unaffected")
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		parent, candidate string
		want              bool
	}{
		{"/a", "/a/b", true},
		{"/a", "/a/b/c", true},
		{"/a", "/ab", false},
		{"/a", "/a", false},
		{"/a", "/", false},
	}
	for _, tt := range tests {
		if got := isWithin(tt.parent, tt.candidate); got != tt.want {
			t.Errorf("isWithin(%q, %q) = %v, want %v", tt.parent, tt.candidate, got, tt.want)
		}
	}
}

func TestDirBucketPathIsDeterministicAndShaped(t *testing.T) {
	id := newDirID()
	a := dirBucketPath(id)
	b := dirBucketPath(id)
	if a != b {
		t.Errorf("dirBucketPath must be deterministic for the same DirId")
	}
	if len(a) != len("d/")+2+1+14 {
		t.Errorf("dirBucketPath(%q) has unexpected length: %q", id, a)
	}
	if dirBucketPath(rootDirID) == dirBucketPath(newDirID()) {
		t.Errorf("root bucket should not collide with a fresh random DirId with overwhelming probability")
	}
}

func TestDirIDReadWriteRoundTrip(t *testing.T) {
	host, _ := memfs.NewFS()
	store := newDirIDStore(host, 10)
	if err := host.MkdirAll("/d/ab/cdef", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	id := newDirID()
	if err := store.writeDirID("/d/ab/cdef", id); err != nil {
		t.Fatalf("writeDirID: %v", err)
	}
	got, err := store.readDirID("/d/ab/cdef", defaultVaultConfigFilename)
	if err != nil {
		t.Fatalf("readDirID: %v", err)
	}
	if got != id {
		t.Errorf("readDirID = %q, want %q", got, id)
	}
}
