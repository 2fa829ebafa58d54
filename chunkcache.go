package cryptofs

import (
	"container/list"
	"io"
	"sync"

	"github.com/absfs/absfs"
)

// chunkCacheEntry is one decrypted chunk plus whether it has been written
// since it was last flushed to the ciphertext file.
type chunkCacheEntry struct {
	index     int64
	plaintext []byte
	dirty     bool
}

// chunkCache is the decrypted-chunk working set for a single open
// ciphertext file. It is a bounded LRU keyed by chunk index; evicting an
// entry flushes it synchronously first, so a cache eviction can never
// lose a write — generalized from the teacher's single ChunkedFile
// chunkCache (map[uint32][]byte plus a recency slice) into an LRU with
// write-back, since spec.md requires crash-consistent partial writes
// rather than the teacher's read-mostly cache.
type chunkCache struct {
	mu       sync.Mutex
	capacity int
	cryptor  Cryptor
	header   *FileHeader
	host     absfs.File // the ciphertext file's host handle
	path     string     // ciphertext path, for error messages

	entries map[int64]*list.Element
	order   *list.List // front = most recently used
}

func newChunkCache(cryptor Cryptor, header *FileHeader, host absfs.File, path string, capacity int) *chunkCache {
	if capacity <= 0 {
		capacity = defaultChunkCacheSize
	}
	return &chunkCache{
		capacity: capacity,
		cryptor:  cryptor,
		header:   header,
		host:     host,
		path:     path,
		entries:  make(map[int64]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *chunkCache) chunkOffset(index int64) int64 {
	return int64(c.cryptor.HeaderSize()) + index*int64(c.cryptor.ChunkCiphertextSize())
}

// get returns the decrypted plaintext for chunk index, reading and
// decrypting it from the host file if it isn't already cached. The
// returned slice is owned by the cache; callers must copy before
// mutating it directly (use put for writes instead).
func (c *chunkCache) get(index int64, ciphertextChunkLen int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[index]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*chunkCacheEntry).plaintext, nil
	}

	ciphertext := make([]byte, ciphertextChunkLen)
	if _, err := c.host.ReadAt(ciphertext, c.chunkOffset(index)); err != nil && err != io.EOF {
		return nil, wrapHostError("read", c.path, err)
	}
	plaintext, err := c.cryptor.DecryptChunk(c.header, index, ciphertext)
	if err != nil {
		if ce, ok := err.(*CorruptionError); ok {
			ce.Path = c.path
			ce.ChunkIdx = index
		}
		return nil, err
	}
	c.insertLocked(index, plaintext, false)
	return plaintext, nil
}

// put installs plaintext as the new content of chunk index, marking it
// dirty so it is encrypted and written back on eviction or flush.
func (c *chunkCache) put(index int64, plaintext []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(plaintext))
	copy(stored, plaintext)
	if el, ok := c.entries[index]; ok {
		el.Value.(*chunkCacheEntry).plaintext = stored
		el.Value.(*chunkCacheEntry).dirty = true
		c.order.MoveToFront(el)
		return nil
	}
	return c.insertLocked(index, stored, true)
}

func (c *chunkCache) insertLocked(index int64, plaintext []byte, dirty bool) error {
	el := c.order.PushFront(&chunkCacheEntry{index: index, plaintext: plaintext, dirty: dirty})
	c.entries[index] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*chunkCacheEntry)
		if entry.dirty {
			if err := c.writeBackLocked(entry); err != nil {
				return err
			}
		}
		c.order.Remove(oldest)
		delete(c.entries, entry.index)
	}
	return nil
}

func (c *chunkCache) writeBackLocked(entry *chunkCacheEntry) error {
	ciphertext, err := c.cryptor.EncryptChunk(c.header, entry.index, entry.plaintext)
	if err != nil {
		return err
	}
	if _, err := c.host.WriteAt(ciphertext, c.chunkOffset(entry.index)); err != nil {
		return wrapHostError("write", c.path, err)
	}
	entry.dirty = false
	return nil
}

// flush writes every dirty chunk back to the host file. Callers must call
// this before closing an OpenCryptoFile that has pending writes.
func (c *chunkCache) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*chunkCacheEntry)
		if entry.dirty {
			if err := c.writeBackLocked(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// dropChunksFrom evicts (without writing back) every cached chunk at or
// beyond index, used by truncate to shorten a file.
func (c *chunkCache) dropChunksFrom(index int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, el := range c.entries {
		if idx >= index {
			c.order.Remove(el)
			delete(c.entries, idx)
		}
	}
}
