package cryptofs

import (
	"fmt"
	"strings"
)

// reservedNameStems are on-disk entry names that the vault format assigns a
// special meaning to; a cleartext file or directory may never encode to one
// of these, and no cleartext name may literally equal one either, since
// that would collide with the vault's own bookkeeping entries.
var reservedNameStems = map[string]bool{
	"dir.c9r":     true,
	"name.c9s":    true,
	"symlink.c9r": true,
	"contents.c9r": true,
}

// validateCleartextName checks a single path component (not a full path)
// against the codec's constraints: length, forbidden characters, and
// reserved stems.
func validateCleartextName(name string, maxLen int) error {
	if name == "" {
		return newPathError("validate", name, ErrInvalidName)
	}
	if name == "." || name == ".." {
		return newPathError("validate", name, ErrInvalidName)
	}
	if len(name) > maxLen {
		return newPathError("validate", name, ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\x00") {
		return newPathError("validate", name, ErrInvalidName)
	}
	if reservedNameStems[name] {
		return newPathError("validate", name, ErrInvalidName)
	}
	return nil
}

// validateOffset rejects negative file offsets.
func validateOffset(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("cryptofs: negative offset %d", offset)
	}
	return nil
}

// validateChunkIndex rejects a chunk index outside [0, chunkCount].
func validateChunkIndex(index, chunkCount int64) error {
	if index < 0 || index > chunkCount {
		return fmt.Errorf("cryptofs: chunk index %d out of bounds (have %d chunks)", index, chunkCount)
	}
	return nil
}

// validateKeySize rejects key material of the wrong length for its cipher.
func validateKeySize(key []byte, expected int, field string) error {
	if len(key) != expected {
		return fmt.Errorf("cryptofs: invalid %s size: got %d bytes, expected %d", field, len(key), expected)
	}
	return nil
}
