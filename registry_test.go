package cryptofs

import (
	"testing"

	"github.com/absfs/memfs"
)

func newTestRegistry(t *testing.T) *OpenCryptoFiles {
	t.Helper()
	host, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	cryptor, err := NewCryptor(testMasterKey(), CipherAES256GCM, 0)
	if err != nil {
		t.Fatalf("NewCryptor: %v", err)
	}
	return newOpenCryptoFiles(host, cryptor, defaultChunkCacheSize)
}

func TestRegistryGetOrCreateSharesOneInstance(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.getOrCreate("/ciphertext", true)
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	b, err := r.getOrCreate("/ciphertext", false)
	if err != nil {
		t.Fatalf("getOrCreate (second): %v", err)
	}
	if a != b {
		t.Error("two getOrCreate calls for the same path must return the same *OpenCryptoFile")
	}
}

func TestRegistryCloseReleasesOnLastReference(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.getOrCreate("/f", true); err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	if _, err := r.getOrCreate("/f", false); err != nil {
		t.Fatalf("getOrCreate (second ref): %v", err)
	}
	if err := r.close("/f"); err != nil {
		t.Fatalf("close (1/2): %v", err)
	}
	if !r.isOpen("/f") {
		t.Error("file should still be open after releasing only one of two references")
	}
	if err := r.close("/f"); err != nil {
		t.Fatalf("close (2/2): %v", err)
	}
	if r.isOpen("/f") {
		t.Error("file should be closed after releasing the last reference")
	}
}

func TestRegistryCloseOnUnopenedPathIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.close("/never-opened"); err != nil {
		t.Errorf("close on an unopened path should be a no-op, got %v", err)
	}
}

func TestRegistryPrepareMoveRelocatesLiveEntry(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.getOrCreate("/old", true); err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	if ok := r.prepareMove("/old", "/new"); !ok {
		t.Fatal("prepareMove should report true for a live entry")
	}
	if r.isOpen("/old") {
		t.Error("/old should no longer be registered after prepareMove")
	}
	if !r.isOpen("/new") {
		t.Error("/new should be registered after prepareMove")
	}
}

func TestRegistryPrepareMoveOnUnopenedPathReturnsFalse(t *testing.T) {
	r := newTestRegistry(t)
	if ok := r.prepareMove("/nothing-here", "/new"); ok {
		t.Error("prepareMove should return false when oldPath has no live entry")
	}
}

func TestRegistryPeek(t *testing.T) {
	r := newTestRegistry(t)
	if _, ok := r.peek("/f"); ok {
		t.Fatal("peek should miss before the file is opened")
	}
	ocf, err := r.getOrCreate("/f", true)
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	got, ok := r.peek("/f")
	if !ok || got != ocf {
		t.Error("peek should return the same live instance without acquiring a reference")
	}
}
