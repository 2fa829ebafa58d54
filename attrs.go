package cryptofs

import (
	"os"
	"time"
)

// Attr is the cleartext-facing view of one vault entry's attributes:
// ciphertext size is translated back to cleartext size via the chunk
// size formula (or, for an entry with a live OpenCryptoFile, the
// coordinator's own authoritative size/mtime, which can be ahead of what
// is currently flushed to disk).
type Attr struct {
	IsDir   bool
	IsLink  bool
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// Stat resolves cleartextPath and returns its cleartext-facing Attr.
func (vfs *CryptoFileSystem) Stat(cleartextPath string) (*Attr, error) {
	entry, err := vfs.mapper.resolve(cleartextPath)
	if err != nil {
		return nil, err
	}
	if entry.Kind == entryMissing {
		return nil, newPathError("stat", cleartextPath, ErrNotFound)
	}

	switch entry.Kind {
	case entryDirectory:
		info, err := vfs.host.Stat(entry.CiphertextNodePath)
		if err != nil {
			return nil, wrapHostError("stat", entry.CiphertextNodePath, err)
		}
		return &Attr{IsDir: true, ModTime: info.ModTime(), Mode: info.Mode()}, nil

	case entrySymlink:
		info, err := vfs.host.Stat(entry.CiphertextDataPath)
		if err != nil {
			return nil, wrapHostError("stat", entry.CiphertextDataPath, err)
		}
		return &Attr{IsLink: true, ModTime: info.ModTime(), Mode: info.Mode()}, nil

	default: // entryFile
		if ocf, ok := vfs.openFiles.peek(entry.CiphertextDataPath); ok {
			return &Attr{Size: ocf.Size(), ModTime: ocf.ModTime(), Mode: 0o600}, nil
		}
		info, err := vfs.host.Stat(entry.CiphertextDataPath)
		if err != nil {
			return nil, wrapHostError("stat", entry.CiphertextDataPath, err)
		}
		size := cleartextSizeFromCiphertextLength(info.Size(), vfs.cryptor.ChunkPlaintextSize())
		return &Attr{Size: size, ModTime: info.ModTime(), Mode: info.Mode()}, nil
	}
}
