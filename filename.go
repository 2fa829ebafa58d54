package cryptofs

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
)

// shortenedSuffix marks a ciphertext directory that stands in for a name
// whose encrypted form would otherwise exceed the shortening threshold.
const shortenedSuffix = ".c9s"

// sidecarFilename is the entry inside a shortened directory that carries
// the full (un-shortened) encrypted name it stands in for.
const sidecarFilename = "name.c9s"

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

// nameCodec turns cleartext path components into ciphertext on-disk names
// and back, applying AES-SIV (via Cryptor) and, when the result would be
// too long for common host filesystems, the .c9s shortening scheme.
//
// A codec is stateless with respect to any single name: whether a given
// ciphertext name is shortened is a property of the name's length alone,
// so encoding never needs to consult the filesystem. Decoding a shortened
// name, however, requires reading its name.c9s sidecar, which this codec
// does not do — pathmapper.go and dirops.go read sidecars, since they own
// host I/O.
type nameCodec struct {
	cryptor   Cryptor
	mode      FilenameEncryption
	threshold int
	maxLen    int
}

func newNameCodec(cryptor Cryptor, mode FilenameEncryption, threshold, maxLen int) *nameCodec {
	return &nameCodec{cryptor: cryptor, mode: mode, threshold: threshold, maxLen: maxLen}
}

// encodedName is the full on-disk-ready name before any shortening
// decision is applied: base64url-encoded AES-SIV ciphertext in
// FilenameEncryptionDeterministic mode, or the cleartext name verbatim in
// FilenameEncryptionNone mode.
func (c *nameCodec) encodedName(cleartext string, dirID DirID) (string, error) {
	if err := validateCleartextName(cleartext, c.maxLen); err != nil {
		return "", err
	}
	if c.mode == FilenameEncryptionNone {
		return cleartext, nil
	}
	ciphertext, err := c.cryptor.EncryptFilename(cleartext, dirID)
	if err != nil {
		return "", fmt.Errorf("cryptofs: encrypt filename %q: %w", cleartext, err)
	}
	return b64.EncodeToString(ciphertext), nil
}

// decodeName recovers the cleartext name from a full encoded name (already
// resolved past any .c9s indirection).
func (c *nameCodec) decodeName(encoded string, dirID DirID) (string, error) {
	if c.mode == FilenameEncryptionNone {
		return encoded, nil
	}
	raw, err := b64.DecodeString(encoded)
	if err != nil {
		return "", newCorruptionError(encoded, -1, ErrCorruptedDirectory, "malformed base64 ciphertext name")
	}
	cleartext, err := c.cryptor.DecryptFilename(raw, dirID)
	if err != nil {
		return "", newCorruptionError(encoded, -1, ErrCorruptedDirectory, "filename authentication failed")
	}
	return cleartext, nil
}

// needsShortening reports whether an encoded name must be wrapped in a
// shortened .c9s directory rather than used directly as an on-disk name.
func (c *nameCodec) needsShortening(encoded string) bool {
	return len(encoded) > c.threshold
}

// shortenedDirName computes the deterministic on-disk bucket name for a
// shortened entry: SHA-1 of the full encoded name, base64url-encoded, with
// the .c9s suffix. Deterministic so repeated lookups of the same
// cleartext name always land on the same shortened directory.
func shortenedDirName(encoded string) string {
	sum := sha1.Sum([]byte(encoded))
	return b64.EncodeToString(sum[:]) + shortenedSuffix
}

// encodeEntryName produces the final on-disk entry name for a cleartext
// name under dirID: either the plain encoded ciphertext name, or (if it
// would exceed the threshold) the shortened bucket name. The caller is
// responsible for writing encoded as the bucket's name.c9s sidecar
// whenever shortened is true.
func (c *nameCodec) encodeEntryName(cleartext string, dirID DirID) (onDisk string, encoded string, shortened bool, err error) {
	encoded, err = c.encodedName(cleartext, dirID)
	if err != nil {
		return "", "", false, err
	}
	if c.needsShortening(encoded) {
		return shortenedDirName(encoded), encoded, true, nil
	}
	return encoded, encoded, false, nil
}
