package cryptofs

import (
	"sync"

	"github.com/absfs/absfs"
)

// OpenCryptoFiles is the registry that guarantees at most one
// OpenCryptoFile exists per ciphertext path at a time. Every open,
// rename, and close of a cleartext file passes through here so that two
// concurrently opened channels onto the same cleartext file are always
// multiplexed onto one coordinator and its one chunk cache — this is
// what keeps concurrent writers from producing interleaved, silently
// corrupted chunks.
type OpenCryptoFiles struct {
	host           absfs.FileSystem
	cryptor        Cryptor
	chunkCacheSize int

	mu    sync.Mutex
	files map[string]*OpenCryptoFile // keyed by ciphertext path
}

func newOpenCryptoFiles(host absfs.FileSystem, cryptor Cryptor, chunkCacheSize int) *OpenCryptoFiles {
	return &OpenCryptoFiles{
		host:           host,
		cryptor:        cryptor,
		chunkCacheSize: chunkCacheSize,
		files:          make(map[string]*OpenCryptoFile),
	}
}

// getOrCreate returns the shared OpenCryptoFile for ciphertextPath,
// opening (or creating) the host file only on the first reference.
func (r *OpenCryptoFiles) getOrCreate(ciphertextPath string, create bool) (*OpenCryptoFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ocf, ok := r.files[ciphertextPath]; ok {
		ocf.acquire()
		return ocf, nil
	}

	ocf, err := openCryptoFile(r.host, r.cryptor, ciphertextPath, create, r.chunkCacheSize)
	if err != nil {
		return nil, err
	}
	r.files[ciphertextPath] = ocf
	return ocf, nil
}

// close releases one reference to the OpenCryptoFile at ciphertextPath,
// flushing and closing the host handle once the last reference drops.
func (r *OpenCryptoFiles) close(ciphertextPath string) error {
	r.mu.Lock()
	ocf, ok := r.files[ciphertextPath]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	remaining := ocf.release()
	if remaining > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.files, ciphertextPath)
	err := ocf.Close()
	r.mu.Unlock()
	return err
}

// prepareMove relocates any live OpenCryptoFile entry from oldPath to
// newPath, so that channels opened before a move keep writing to the
// correct (now renamed) chunk cache instead of silently targeting a
// ciphertext path that no longer exists. Returns false if oldPath had no
// live registry entry, in which case the caller just renames on the host.
func (r *OpenCryptoFiles) prepareMove(oldPath, newPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ocf, ok := r.files[oldPath]
	if !ok {
		return false
	}
	delete(r.files, oldPath)
	r.files[newPath] = ocf
	ocf.setPath(newPath)
	return true
}

// isOpen reports whether ciphertextPath currently has a live registry
// entry, used by Create, Move and removeEntry to detect live handles.
func (r *OpenCryptoFiles) isOpen(ciphertextPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.files[ciphertextPath]
	return ok
}

// peek returns the live OpenCryptoFile for ciphertextPath, if any,
// without acquiring a reference. Used by Stat to prefer an open file's
// authoritative in-memory size/mtime over what is currently flushed to
// the host filesystem.
func (r *OpenCryptoFiles) peek(ciphertextPath string) (*OpenCryptoFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ocf, ok := r.files[ciphertextPath]
	return ocf, ok
}
