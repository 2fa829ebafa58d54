package cryptofs

import (
	"bytes"
	"testing"

	"github.com/absfs/memfs"
)

func newTestChunkCache(t *testing.T, capacity int) (*chunkCache, Cryptor) {
	t.Helper()
	host, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	cryptor, err := NewCryptor(testMasterKey(), CipherAES256GCM, 16)
	if err != nil {
		t.Fatalf("NewCryptor: %v", err)
	}
	header, err := cryptor.NewHeader()
	if err != nil {
		t.Fatalf("NewHeader: %v", err)
	}
	f, err := host.Create("/ciphertext.bin")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return newChunkCache(cryptor, header, f, "/ciphertext.bin", capacity), cryptor
}

func TestChunkCachePutThenGetReturnsSameData(t *testing.T) {
	cache, _ := newTestChunkCache(t, 4)
	plaintext := []byte("0123456789abcdef")
	if err := cache.put(0, plaintext); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := cache.get(0, cache.cryptor.ChunkCiphertextSize())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("get = %q, want %q", got, plaintext)
	}
}

func TestChunkCacheFlushPersistsAcrossCache(t *testing.T) {
	cache, cryptor := newTestChunkCache(t, 4)
	plaintext := []byte("persist-me-16by.")[:16]
	if err := cache.put(2, plaintext); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := cache.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// A fresh cache over the same host handle must read back the
	// written-through ciphertext correctly.
	fresh := newChunkCache(cryptor, cache.header, cache.host, cache.path, 4)
	got, err := fresh.get(2, cryptor.ChunkCiphertextSize())
	if err != nil {
		t.Fatalf("get after flush: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("get after flush = %q, want %q", got, plaintext)
	}
}

func TestChunkCacheEvictionWritesBackDirtyEntries(t *testing.T) {
	cache, cryptor := newTestChunkCache(t, 2)
	a := []byte("aaaaaaaaaaaaaaaa")
	b := []byte("bbbbbbbbbbbbbbbb")
	c := []byte("cccccccccccccccc")

	if err := cache.put(0, a); err != nil {
		t.Fatalf("put 0: %v", err)
	}
	if err := cache.put(1, b); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	// capacity is 2; inserting a third dirty entry must evict and write
	// back chunk 0 before it drops out of the in-memory cache.
	if err := cache.put(2, c); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	fresh := newChunkCache(cryptor, cache.header, cache.host, cache.path, 4)
	got, err := fresh.get(0, cryptor.ChunkCiphertextSize())
	if err != nil {
		t.Fatalf("get evicted chunk 0: %v", err)
	}
	if !bytes.Equal(got, a) {
		t.Errorf("evicted chunk 0 = %q, want %q", got, a)
	}
}

func TestChunkCacheDropChunksFromDiscardsWithoutWriteback(t *testing.T) {
	cache, cryptor := newTestChunkCache(t, 4)
	if err := cache.put(0, []byte("keep-this-1234..")[:16]); err != nil {
		t.Fatalf("put 0: %v", err)
	}
	if err := cache.put(1, []byte("drop-this-567890")); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	cache.dropChunksFrom(1)

	if _, ok := cache.entries[1]; ok {
		t.Error("chunk 1 should have been dropped from the in-memory cache")
	}

	fresh := newChunkCache(cryptor, cache.header, cache.host, cache.path, 4)
	// chunk 1 was never written back, so reading it from the host file
	// should not reproduce the dropped plaintext (it reads as zero bytes,
	// which will fail to authenticate against the recorded AAD).
	if _, err := fresh.get(1, cryptor.ChunkCiphertextSize()); err == nil {
		t.Error("expected reading a never-written-back chunk to fail authentication")
	}
}
