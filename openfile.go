package cryptofs

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absfs/absfs"
)

// OpenCryptoFile is the single, shared coordinator for every open
// cleartext channel onto one ciphertext file. At most one OpenCryptoFile
// exists per ciphertext path at any time (enforced by the registry); every
// Read/Write/Truncate channel opened against that cleartext path shares
// this instance, its chunk cache, and its lock, so concurrent channels can
// never observe a half-written chunk from one another.
type OpenCryptoFile struct {
	cryptor Cryptor
	host    absfs.File
	header  *FileHeader
	cache   *chunkCache

	mu sync.RWMutex // guards read/write exclusion on the chunk span touched

	size  atomic.Int64
	mtime atomic.Value // time.Time

	refCount atomic.Int32

	pathMu      sync.Mutex
	currentPath string // ciphertext path; swapped on rename/move
}

// openCryptoFile opens (or creates) the ciphertext file at path and wires
// up its header and chunk cache. create is true for O_CREATE opens on a
// path that does not yet exist.
func openCryptoFile(host absfs.FileSystem, cryptor Cryptor, path string, create bool, chunkCacheSize int) (*OpenCryptoFile, error) {
	var hf absfs.File
	var err error
	if create {
		hf, err = host.Create(path)
	} else {
		hf, err = host.OpenFile(path, os.O_RDWR, 0)
	}
	if err != nil {
		return nil, wrapHostError("open", path, err)
	}

	info, err := hf.Stat()
	if err != nil {
		hf.Close()
		return nil, wrapHostError("stat", path, err)
	}

	ocf := &OpenCryptoFile{
		cryptor:     cryptor,
		host:        hf,
		currentPath: path,
	}
	ocf.mtime.Store(info.ModTime())

	if info.Size() == 0 {
		header, herr := cryptor.NewHeader()
		if herr != nil {
			hf.Close()
			return nil, herr
		}
		encoded, herr := cryptor.EncodeHeader(header)
		if herr != nil {
			hf.Close()
			return nil, herr
		}
		if _, werr := hf.WriteAt(encoded, 0); werr != nil {
			hf.Close()
			return nil, wrapHostError("write", path, werr)
		}
		ocf.header = header
		ocf.size.Store(0)
	} else {
		raw := make([]byte, cryptor.HeaderSize())
		if _, rerr := hf.ReadAt(raw, 0); rerr != nil {
			hf.Close()
			return nil, wrapHostError("read", path, rerr)
		}
		header, herr := cryptor.DecodeHeader(raw)
		if herr != nil {
			hf.Close()
			if ce, ok := herr.(*CorruptionError); ok {
				ce.Path = path
			}
			return nil, herr
		}
		ocf.header = header
		ocf.size.Store(cleartextSizeFromCiphertextLength(info.Size(), cryptor.ChunkPlaintextSize()))
	}

	ocf.cache = newChunkCache(cryptor, ocf.header, hf, path, chunkCacheSize)
	ocf.refCount.Store(1)
	return ocf, nil
}

func (f *OpenCryptoFile) Size() int64 { return f.size.Load() }

func (f *OpenCryptoFile) ModTime() time.Time {
	t, _ := f.mtime.Load().(time.Time)
	return t
}

func (f *OpenCryptoFile) touch() { f.mtime.Store(time.Now()) }

func (f *OpenCryptoFile) acquire() { f.refCount.Add(1) }

// release drops a reference; the caller should close the host handle and
// discard the instance once release returns zero.
func (f *OpenCryptoFile) release() int32 { return f.refCount.Add(-1) }

// ReadAt decrypts plaintext bytes in [off, off+len(b)) out of the chunk
// cache, loading and decrypting any chunk not already cached.
func (f *OpenCryptoFile) ReadAt(b []byte, off int64) (int, error) {
	if err := validateOffset(off); err != nil {
		return 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	size := f.size.Load()
	if off >= size {
		return 0, nil
	}
	if off+int64(len(b)) > size {
		b = b[:size-off]
	}

	p := int64(f.cryptor.ChunkPlaintextSize())
	n := 0
	for n < len(b) {
		pos := off + int64(n)
		chunkIdx := pos / p
		chunkOff := pos % p
		plainLen := p
		if chunkIdx == chunkCountForSize(size, int(p))-1 {
			plainLen = size - chunkIdx*p
		}
		chunk, err := f.cache.get(chunkIdx, chunkCiphertextSize(int(plainLen)))
		if err != nil {
			return n, err
		}
		copied := copy(b[n:], chunk[chunkOff:])
		n += copied
	}
	return n, nil
}

// WriteAt encrypts plaintext bytes at off, going through the chunk cache
// so that a write touching only part of a chunk still reads-modifies-
// writes the whole chunk (a chunk is the atomic unit of the AEAD, so a
// partial chunk write can never be expressed any other way). A write whose
// offset lands past the current end of file first writes zeros over the
// gap [oldSize, off), so that region always decodes back to encrypted
// zeros rather than leaving a hole with no ciphertext at all.
func (f *OpenCryptoFile) WriteAt(b []byte, off int64) (int, error) {
	if err := validateOffset(off); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if gap := off - f.size.Load(); gap > 0 {
		if _, err := f.writeAtLocked(make([]byte, gap), f.size.Load()); err != nil {
			return 0, err
		}
	}
	n, err := f.writeAtLocked(b, off)
	f.touch()
	return n, err
}

// writeAtLocked performs the chunked read-modify-write of b at off. The
// caller must already hold f.mu — used by WriteAt itself (after any gap is
// zero-filled) and by Truncate's grow path, which holds the lock already
// and would deadlock calling WriteAt directly.
func (f *OpenCryptoFile) writeAtLocked(b []byte, off int64) (int, error) {
	p := int64(f.cryptor.ChunkPlaintextSize())
	n := 0
	for n < len(b) {
		pos := off + int64(n)
		chunkIdx := pos / p
		chunkOff := pos % p

		currentSize := f.size.Load()
		existingChunkLen := int64(0)
		if chunkIdx*p < currentSize {
			existingChunkLen = currentSize - chunkIdx*p
			if existingChunkLen > p {
				existingChunkLen = p
			}
		}

		var chunk []byte
		if existingChunkLen > 0 {
			existing, err := f.cache.get(chunkIdx, chunkCiphertextSize(int(existingChunkLen)))
			if err != nil {
				return n, err
			}
			chunk = make([]byte, existingChunkLen)
			copy(chunk, existing)
		}
		if need := chunkOff + int64(minInt(len(b)-n, int(p-chunkOff))); int64(len(chunk)) < need {
			grown := make([]byte, need)
			copy(grown, chunk)
			chunk = grown
		}
		copied := copy(chunk[chunkOff:], b[n:])
		if err := f.cache.put(chunkIdx, chunk); err != nil {
			return n, err
		}
		n += copied

		newEnd := chunkIdx*p + int64(len(chunk))
		if newEnd > currentSize {
			f.size.Store(newEnd)
		}
	}
	return n, nil
}

// Truncate resizes the file to size, dropping cached chunks beyond the
// new last chunk and rewriting the new last chunk's tail with a
// read-modify-write so its AEAD stays valid over exactly size bytes.
func (f *OpenCryptoFile) Truncate(size int64) error {
	if size < 0 {
		return newPathError("truncate", f.path(), ErrInvalidName)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	oldSize := f.size.Load()
	p := int64(f.cryptor.ChunkPlaintextSize())
	if size < oldSize {
		lastChunk := chunkCountForSize(size, int(p)) - 1
		f.cache.dropChunksFrom(lastChunk + 1)
		if size%p != 0 || size == 0 {
			if lastChunk >= 0 {
				existingLen := oldSize - lastChunk*p
				if existingLen > p {
					existingLen = p
				}
				existing, err := f.cache.get(lastChunk, chunkCiphertextSize(int(existingLen)))
				if err != nil {
					return err
				}
				newLen := size - lastChunk*p
				trimmed := make([]byte, newLen)
				copy(trimmed, existing[:newLen])
				if err := f.cache.put(lastChunk, trimmed); err != nil {
					return err
				}
			}
		}
	} else if size > oldSize {
		if _, err := f.writeAtLocked(make([]byte, size-oldSize), oldSize); err != nil {
			return err
		}
		f.touch()
		return nil
	}
	f.size.Store(size)
	f.touch()
	return nil
}

// Flush writes every dirty cached chunk back to the host file.
func (f *OpenCryptoFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache.flush()
}

// Close flushes pending writes and closes the underlying host handle.
// Callers normally go through the registry's close(), not this directly.
func (f *OpenCryptoFile) Close() error {
	if err := f.Flush(); err != nil {
		f.host.Close()
		return err
	}
	return wrapHostError("close", f.path(), f.host.Close())
}

func (f *OpenCryptoFile) path() string {
	f.pathMu.Lock()
	defer f.pathMu.Unlock()
	return f.currentPath
}

// setPath updates the ciphertext path this instance is known by, used
// when the registry relocates an entry after a rename/move.
func (f *OpenCryptoFile) setPath(path string) {
	f.pathMu.Lock()
	f.currentPath = path
	f.cache.path = path
	f.pathMu.Unlock()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
