package cryptofs

import "io"

// Symlink creates a cleartext symlink at path whose payload is the
// cleartext target string. The payload goes through the same chunk
// machinery as file content (so it is authenticated and encrypted under
// the vault's cipher), but the path translator never descends through a
// symlink: resolving a path that passes through one fails with
// ErrNotADirectory.
func (vfs *CryptoFileSystem) Symlink(target, path string) error {
	if vfs.cfg.ReadOnly {
		return newPathError("symlink", path, ErrReadOnlyFileSystem)
	}
	vfs.cfg.logger().Debug("symlink", "path", path, "target", target)

	parentDirID, parentBucket, name, err := vfs.mapper.resolveParent(path)
	if err != nil {
		return err
	}
	existing, err := vfs.mapper.resolveComponent(parentDirID, parentBucket, name)
	if err != nil {
		return err
	}
	if existing.Kind != entryMissing {
		return newPathError("symlink", path, ErrAlreadyExists)
	}

	onDisk, encoded, shortened, err := vfs.codec.encodeEntryName(name, parentDirID)
	if err != nil {
		return err
	}
	nodePath := parentBucket + "/" + onDisk

	// A symlink is always a ciphertext directory containing symlink.c9r,
	// never a flat file — that is what lets resolveComponent tell a
	// symlink apart from a regular file without a separate marker.
	if err := vfs.host.Mkdir(nodePath, 0o700); err != nil {
		return wrapHostError("mkdir", nodePath, err)
	}
	if shortened {
		if err := writeSidecar(vfs.host, nodePath, encoded); err != nil {
			return err
		}
	}
	dataPath := nodePath + "/" + symlinkFilename

	ocf, err := openCryptoFile(vfs.host, vfs.cryptor, dataPath, true, vfs.cfg.ChunkCacheSize)
	if err != nil {
		return err
	}
	defer ocf.Close()
	if _, err := ocf.WriteAt([]byte(target), 0); err != nil {
		return err
	}
	return nil
}

// Readlink returns the cleartext target of the symlink at path.
func (vfs *CryptoFileSystem) Readlink(path string) (string, error) {
	entry, err := vfs.mapper.resolve(path)
	if err != nil {
		return "", err
	}
	if entry.Kind == entryMissing {
		return "", newPathError("readlink", path, ErrNotFound)
	}
	if entry.Kind != entrySymlink {
		return "", newPathError("readlink", path, ErrInvalidName)
	}

	ocf, err := openCryptoFile(vfs.host, vfs.cryptor, entry.CiphertextDataPath, false, vfs.cfg.ChunkCacheSize)
	if err != nil {
		return "", err
	}
	defer ocf.Close()

	buf := make([]byte, ocf.Size())
	if _, err := ocf.ReadAt(buf, 0); err != nil && err != io.EOF {
		return "", err
	}
	return string(buf), nil
}
