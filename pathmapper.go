package cryptofs

import (
	"io"
	"os"
	"strings"

	"github.com/absfs/absfs"
)

// entryKind classifies what a resolved ciphertext entry turned out to be.
type entryKind uint8

const (
	entryMissing entryKind = iota
	entryFile
	entryDirectory
	entrySymlink
)

const (
	dirIDFilename     = "dir.c9r"
	symlinkFilename   = "symlink.c9r"
	contentsFilename  = "contents.c9r"
)

// resolvedEntry is what CryptoPathMapper.resolve returns: enough
// information to open, stat, or rewrite the ciphertext node backing one
// cleartext path, without the caller ever re-deriving bucket or DirId
// bookkeeping itself.
type resolvedEntry struct {
	Kind entryKind

	// CiphertextDataPath is where the entry's payload lives: the file
	// itself (header+chunks) for entryFile, the symlink.c9r file for
	// entrySymlink. Unused for entryDirectory.
	CiphertextDataPath string

	// CiphertextNodePath is the on-disk node for this entry: for a
	// shortened entry, the ".c9s" directory; otherwise identical to
	// CiphertextDataPath for a file, or the node directory itself for a
	// directory or symlink.
	CiphertextNodePath string

	// DirID is populated for entryDirectory: the resolved directory's own
	// identifier, read from its dir.c9r.
	DirID DirID

	Shortened bool
}

// CryptoPathMapper translates cleartext vault paths into ciphertext
// locations on the host filesystem and back. Because filename encryption
// is deterministic (AES-SIV under the parent DirId), a ciphertext
// location can be computed directly from a cleartext path without ever
// listing a directory — exactly mirroring how the vault format itself
// avoids needing a separate name index.
type CryptoPathMapper struct {
	host     absfs.FileSystem
	codec    *nameCodec
	dirIDs   *dirIDStore
	sep      byte
}

func newCryptoPathMapper(host absfs.FileSystem, codec *nameCodec, dirIDs *dirIDStore) *CryptoPathMapper {
	return &CryptoPathMapper{host: host, codec: codec, dirIDs: dirIDs, sep: host.Separator()}
}

func splitCleartext(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// resolveComponent resolves one cleartext path component inside the
// directory identified by (parentDirID, parentBucket).
func (m *CryptoPathMapper) resolveComponent(parentDirID DirID, parentBucket, name string) (*resolvedEntry, error) {
	onDisk, encoded, shortened, err := m.codec.encodeEntryName(name, parentDirID)
	if err != nil {
		return nil, err
	}
	entryPath := parentBucket + "/" + onDisk

	info, err := m.host.Stat(entryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &resolvedEntry{Kind: entryMissing, CiphertextNodePath: entryPath, Shortened: shortened}, nil
		}
		return nil, wrapHostError("stat", entryPath, err)
	}

	if !shortened {
		if info.IsDir() {
			if _, serr := m.host.Stat(entryPath + "/" + symlinkFilename); serr == nil {
				return &resolvedEntry{Kind: entrySymlink, CiphertextDataPath: entryPath + "/" + symlinkFilename, CiphertextNodePath: entryPath}, nil
			}
			id, rerr := m.dirIDs.readDirID(entryPath, "")
			if rerr != nil {
				return nil, rerr
			}
			return &resolvedEntry{Kind: entryDirectory, CiphertextNodePath: entryPath, DirID: id}, nil
		}
		return &resolvedEntry{Kind: entryFile, CiphertextDataPath: entryPath, CiphertextNodePath: entryPath}, nil
	}

	if !info.IsDir() {
		return nil, newCorruptionError(entryPath, -1, ErrCorruptedDirectory, "shortened entry is not a directory")
	}
	return m.resolveShortened(entryPath, encoded)
}

// resolveShortened inspects a ".c9s" bucket directory to determine what
// kind of entry it stands in for, verifying its name.c9s sidecar matches
// the encoded name we expect (guarding against hash collisions and
// tampering).
func (m *CryptoPathMapper) resolveShortened(bucketPath, expectedEncoded string) (*resolvedEntry, error) {
	sidecarPath := bucketPath + "/" + sidecarFilename
	f, err := m.host.Open(sidecarPath)
	if err != nil {
		return nil, wrapHostError("open", sidecarPath, err)
	}
	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, wrapHostError("read", sidecarPath, err)
	}
	if string(raw) != expectedEncoded {
		return nil, newCorruptionError(bucketPath, -1, ErrCorruptedDirectory, "name.c9s sidecar does not match expected ciphertext name")
	}

	if _, err := m.host.Stat(bucketPath + "/" + dirIDFilename); err == nil {
		id, rerr := m.dirIDs.readDirID(bucketPath, "")
		if rerr != nil {
			return nil, rerr
		}
		return &resolvedEntry{Kind: entryDirectory, CiphertextNodePath: bucketPath, DirID: id, Shortened: true}, nil
	}
	if _, err := m.host.Stat(bucketPath + "/" + symlinkFilename); err == nil {
		return &resolvedEntry{Kind: entrySymlink, CiphertextDataPath: bucketPath + "/" + symlinkFilename, CiphertextNodePath: bucketPath, Shortened: true}, nil
	}
	if _, err := m.host.Stat(bucketPath + "/" + contentsFilename); err == nil {
		return &resolvedEntry{Kind: entryFile, CiphertextDataPath: bucketPath + "/" + contentsFilename, CiphertextNodePath: bucketPath, Shortened: true}, nil
	}
	return nil, newCorruptionError(bucketPath, -1, ErrCorruptedDirectory, "shortened bucket has no dir.c9r, symlink.c9r or contents.c9r")
}

// resolveDir walks cleartext directory components from the root and
// returns the terminal directory's own DirId and ciphertext bucket path.
// The directory's own path is first looked up in the path -> DirId cache;
// on a miss the walk reads each dir.c9r from the root down and caches
// every directory it passes.
func (m *CryptoPathMapper) resolveDir(cleartextDirPath string) (DirID, string, error) {
	if cleartextDirPath == "" || cleartextDirPath == "/" || cleartextDirPath == "." {
		return rootDirID, dirBucketPath(rootDirID), nil
	}
	parts := splitCleartext(cleartextDirPath)
	if id, ok := m.dirIDs.lookup("/" + strings.Join(parts, "/")); ok {
		return id, dirBucketPath(id), nil
	}

	dirID := rootDirID
	bucket := dirBucketPath(rootDirID)
	built := ""
	for _, part := range parts {
		entry, err := m.resolveComponent(dirID, bucket, part)
		if err != nil {
			return "", "", err
		}
		built += "/" + part
		switch entry.Kind {
		case entryDirectory:
			dirID = entry.DirID
			bucket = dirBucketPath(dirID)
			m.dirIDs.store(built, dirID)
		case entryMissing:
			return "", "", newPathError("resolve", cleartextDirPath, ErrNotFound)
		default:
			return "", "", newPathError("resolve", cleartextDirPath, ErrNotADirectory)
		}
	}
	return dirID, bucket, nil
}

// resolve resolves a full cleartext path to its ciphertext entry.
func (m *CryptoPathMapper) resolve(cleartextPath string) (*resolvedEntry, error) {
	parts := splitCleartext(cleartextPath)
	if len(parts) == 0 {
		return &resolvedEntry{Kind: entryDirectory, CiphertextNodePath: dirBucketPath(rootDirID), DirID: rootDirID}, nil
	}
	parentDir := strings.Join(parts[:len(parts)-1], "/")
	parentDirID, parentBucket, err := m.resolveDir(parentDir)
	if err != nil {
		return nil, err
	}
	return m.resolveComponent(parentDirID, parentBucket, parts[len(parts)-1])
}

// resolveParent resolves every component but the last, returning the
// parent directory's DirId/bucket and the final cleartext component name
// (not yet resolved). Used by create/mkdir/move, which need the parent
// location but must not fail just because the leaf itself is missing.
func (m *CryptoPathMapper) resolveParent(cleartextPath string) (parentDirID DirID, parentBucket string, name string, err error) {
	parts := splitCleartext(cleartextPath)
	if len(parts) == 0 {
		return "", "", "", newPathError("resolve", cleartextPath, ErrInvalidName)
	}
	parentDir := strings.Join(parts[:len(parts)-1], "/")
	parentDirID, parentBucket, err = m.resolveDir(parentDir)
	if err != nil {
		return "", "", "", err
	}
	return parentDirID, parentBucket, parts[len(parts)-1], nil
}
