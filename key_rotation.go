package cryptofs

import (
	"fmt"
	"io"
	"sync"
)

// RotationOptions controls a vault-wide re-encryption pass.
type RotationOptions struct {
	// NewCryptor is the Cryptor every file body is re-encrypted under:
	// each file gets a fresh header and content key sealed by it. File and
	// directory names are not re-encrypted; they keep the ciphertext
	// produced by the vault's current Cryptor.
	NewCryptor Cryptor

	// Parallel controls the worker pool used to re-encrypt files; the
	// zero value uses runtime.NumCPU() workers (see ParallelConfig).
	Parallel ParallelConfig

	// DryRun reports what would be rotated without writing anything.
	DryRun bool
}

// rotationWalkItem is one file discovered during the rotation walk.
type rotationWalkItem struct {
	cleartextPath string
}

// RotateKeys re-encrypts every file reachable from root under a new
// Cryptor, leaving the vault's directory structure (DirIds, bucket
// layout) untouched — only file bodies change; ciphertext names are not
// re-encrypted, and DirIds are independent of the content/filename keys.
//
// This walks the *cleartext* tree via ReadDir
// so the same caller-facing paths used by every other operation drive
// the rotation, rather than a raw host filesystem walk that would have
// no notion of which ciphertext entries belong to which cleartext tree.
func (vfs *CryptoFileSystem) RotateKeys(root string, opts RotationOptions) (rotated int, err error) {
	if opts.NewCryptor == nil {
		return 0, fmt.Errorf("cryptofs: RotateKeys requires a NewCryptor")
	}

	var items []rotationWalkItem
	if err := vfs.walkCleartext(root, func(path string, isDir bool) error {
		if !isDir {
			items = append(items, rotationWalkItem{cleartextPath: path})
		}
		return nil
	}); err != nil {
		return 0, err
	}

	if opts.DryRun {
		return len(items), nil
	}

	count := 0
	var mu sync.Mutex
	err = runParallel(len(items), opts.Parallel, func(i int) error {
		if rerr := vfs.reEncryptFile(items[i].cleartextPath, opts.NewCryptor); rerr != nil {
			return fmt.Errorf("cryptofs: rotate %s: %w", items[i].cleartextPath, rerr)
		}
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	return count, err
}

// reEncryptFile reads a file's full cleartext content under the vault's
// current Cryptor and rewrites it from scratch under newCryptor, with a
// fresh header and content key — rotation never reuses the old content
// key for new ciphertext.
func (vfs *CryptoFileSystem) reEncryptFile(cleartextPath string, newCryptor Cryptor) error {
	srcEntry, err := vfs.mapper.resolve(cleartextPath)
	if err != nil {
		return err
	}
	if srcEntry.Kind != entryFile {
		return nil
	}

	srcOCF, err := openCryptoFile(vfs.host, vfs.cryptor, srcEntry.CiphertextDataPath, false, vfs.cfg.ChunkCacheSize)
	if err != nil {
		return err
	}
	content, err := readAllAt(srcOCF)
	srcOCF.Close()
	if err != nil {
		return err
	}

	// Truncate and rewrite the ciphertext file from scratch under
	// newCryptor: reusing the old header's content key is never safe once
	// the vault master key it was wrapped under is considered rotated.
	dstHost, err := vfs.host.Create(srcEntry.CiphertextDataPath)
	if err != nil {
		return wrapHostError("create", srcEntry.CiphertextDataPath, err)
	}
	defer dstHost.Close()

	header, err := newCryptor.NewHeader()
	if err != nil {
		return err
	}
	encodedHeader, err := newCryptor.EncodeHeader(header)
	if err != nil {
		return err
	}
	if _, err := dstHost.WriteAt(encodedHeader, 0); err != nil {
		return wrapHostError("write", srcEntry.CiphertextDataPath, err)
	}

	dstOCF := &OpenCryptoFile{
		cryptor:     newCryptor,
		host:        dstHost,
		header:      header,
		currentPath: srcEntry.CiphertextDataPath,
	}
	dstOCF.cache = newChunkCache(newCryptor, header, dstHost, srcEntry.CiphertextDataPath, vfs.cfg.ChunkCacheSize)
	dstOCF.refCount.Store(1)

	if _, err := dstOCF.WriteAt(content, 0); err != nil {
		return err
	}
	return dstOCF.Flush()
}

// walkCleartext recursively visits every cleartext entry under root,
// depth-first, calling fn with the entry's path and whether it is a
// directory.
func (vfs *CryptoFileSystem) walkCleartext(root string, fn func(path string, isDir bool) error) error {
	entry, err := vfs.mapper.resolve(root)
	if err != nil {
		return err
	}
	if entry.Kind != entryDirectory {
		return fn(root, false)
	}
	if err := fn(root, true); err != nil {
		return err
	}
	children, err := vfs.ReadDir(root)
	if err != nil {
		return err
	}
	for _, child := range children {
		childPath := root
		if childPath == "" {
			childPath = "/" + child.Name
		} else {
			childPath = root + "/" + child.Name
		}
		if child.IsDir {
			if err := vfs.walkCleartext(childPath, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(childPath, false); err != nil {
			return err
		}
	}
	return nil
}

func readAllAt(ocf *OpenCryptoFile) ([]byte, error) {
	buf := make([]byte, ocf.Size())
	if _, err := ocf.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
