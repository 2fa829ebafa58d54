package cryptofs

import (
	"container/list"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/absfs/absfs"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// DirID is the opaque, 36-byte textual identifier assigned to every
// directory in the vault (the root directory's DirId is the empty
// string). Two cleartext directories never share a DirId, and a
// directory's DirId never changes for its lifetime — only its parent
// changes case when the directory is moved.
type DirID string

// rootDirID is the well-known identifier for the vault root.
const rootDirID DirID = ""

// newDirID mints a fresh, random directory identifier. uuid.New().String()
// produces exactly 36 bytes (32 hex digits + 4 hyphens), matching the
// vault format's textual DirId width.
func newDirID() DirID {
	return DirID(uuid.New().String())
}

// dirIDStore reads and writes the dir.c9r file that holds a ciphertext
// directory's own DirId, and maintains a bounded path -> DirId LRU so
// repeated lookups of the same cleartext directory don't re-read
// dir.c9r from the host filesystem every time.
//
// Grounded on gocryptfs's single-entry dirIVCache and noisefs's
// DirectoryCache (container/list-backed LRU with entry eviction),
// generalized here to a multi-entry bounded cache since a vault walk
// touches many directories in quick succession.
type dirIDStore struct {
	host absfs.FileSystem

	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element // cleartext dir path -> *list.Element
	order    *list.List               // front = most recently used
}

type dirIDCacheEntry struct {
	path string
	id   DirID
}

func newDirIDStore(host absfs.FileSystem, capacity int) *dirIDStore {
	if capacity <= 0 {
		capacity = defaultDirIDCacheSize
	}
	return &dirIDStore{
		host:     host,
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (s *dirIDStore) lookup(path string) (DirID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[path]
	if !ok {
		return "", false
	}
	s.order.MoveToFront(el)
	return el.Value.(*dirIDCacheEntry).id, true
}

func (s *dirIDStore) store(path string, id DirID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[path]; ok {
		el.Value.(*dirIDCacheEntry).id = id
		s.order.MoveToFront(el)
		return
	}
	el := s.order.PushFront(&dirIDCacheEntry{path: path, id: id})
	s.entries[path] = el
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*dirIDCacheEntry).path)
	}
}

// invalidate drops path and every cached descendant of path, used when a
// directory is moved or removed so stale DirIds are never served.
func (s *dirIDStore) invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, el := range s.entries {
		if p == path || isWithin(path, p) {
			s.order.Remove(el)
			delete(s.entries, p)
		}
	}
}

func isWithin(parent, candidate string) bool {
	if len(candidate) <= len(parent) {
		return false
	}
	return candidate[:len(parent)] == parent && candidate[len(parent)] == '/'
}

// readDirID reads the DirId persisted at ciphertextDirPath+"/dir.c9r".
func (s *dirIDStore) readDirID(ciphertextDirPath, vaultConfigFilename string) (DirID, error) {
	idPath := ciphertextDirPath + "/dir.c9r"
	f, err := s.host.Open(idPath)
	if err != nil {
		return "", wrapHostError("open", idPath, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return "", wrapHostError("read", idPath, err)
	}
	return DirID(raw), nil
}

// writeDirID persists id at ciphertextDirPath+"/dir.c9r", creating the
// directory first if it does not yet exist.
func (s *dirIDStore) writeDirID(ciphertextDirPath string, id DirID) error {
	idPath := ciphertextDirPath + "/dir.c9r"
	f, err := s.host.Create(idPath)
	if err != nil {
		return wrapHostError("create", idPath, err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(id)); err != nil {
		return wrapHostError("write", idPath, err)
	}
	return nil
}

// dirBucketPath computes the "d/<2-hex>/<rest-hex>" storage path for a
// DirId, relative to the vault's storage root. The bucket prefix uses
// xxhash rather than a cryptographic hash: the bucketing only needs a
// uniform fan-out across subdirectories, not preimage resistance, and
// xxhash is an order of magnitude cheaper per lookup.
func dirBucketPath(id DirID) string {
	sum := xxhash.Sum64([]byte(id))
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	full := hex.EncodeToString(buf[:])
	return fmt.Sprintf("d/%s/%s", full[:2], full[2:])
}
