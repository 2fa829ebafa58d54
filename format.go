package cryptofs

import "encoding/binary"

// On-disk byte layout of a ciphertext file body, per the vault format:
//
//	Header (H bytes) || Chunk_0 (<=C bytes) || Chunk_1 (<=C bytes) || ...
//
// H and C are fixed for the lifetime of a vault (they depend only on the
// Cryptor's algorithm choices, not on any individual file), which is what
// lets the attributes view (attrs.go) invert ciphertext length back to
// cleartext length without opening the file.

const (
	headerNonceSize = 12
	headerTagSize   = 16
	contentKeySize  = 32

	chunkNonceSize = 12
	chunkTagSize   = 16

	// DefaultChunkPlaintextSize is P, the cleartext payload carried by one
	// chunk. 32 KiB balances re-encryption cost on partial writes against
	// per-chunk AEAD overhead.
	DefaultChunkPlaintextSize = 32 * 1024
)

// headerSize returns H: the fixed on-disk size of an encrypted file header.
func headerSize() int {
	return headerNonceSize + contentKeySize + headerTagSize
}

// chunkCiphertextSize returns C for a given plaintext chunk size P.
func chunkCiphertextSize(plaintextChunkSize int) int {
	return chunkNonceSize + plaintextChunkSize + chunkTagSize
}

// chunkIndexAAD encodes a chunk index as associated data, binding a chunk's
// ciphertext to its position so that chunks cannot be silently reordered or
// spliced between files without the AEAD authentication tag failing.
func chunkIndexAAD(headerNonce []byte, chunkIndex int64) []byte {
	aad := make([]byte, 8+len(headerNonce))
	binary.BigEndian.PutUint64(aad[:8], uint64(chunkIndex))
	copy(aad[8:], headerNonce)
	return aad
}

// chunkCountForSize returns n = ceil((plaintextSize) / P), the number of
// chunks needed to store plaintextSize bytes of cleartext.
func chunkCountForSize(plaintextSize int64, chunkPlaintextSize int) int64 {
	if plaintextSize == 0 {
		return 0
	}
	p := int64(chunkPlaintextSize)
	return (plaintextSize + p - 1) / p
}

// cleartextSizeFromCiphertextLength implements the size formula from the
// data model: given a ciphertext file length, recovers the cleartext length
// without decrypting, using only H, C and P.
func cleartextSizeFromCiphertextLength(ciphertextLen int64, chunkPlaintextSize int) int64 {
	h := int64(headerSize())
	c := int64(chunkCiphertextSize(chunkPlaintextSize))
	p := int64(chunkPlaintextSize)

	if ciphertextLen <= h {
		return 0
	}
	n := (ciphertextLen - h + c - 1) / c
	if n <= 0 {
		return 0
	}
	lastChunkCiphertext := ciphertextLen - h - (n-1)*c
	lastChunkPlaintext := lastChunkCiphertext - int64(chunkNonceSize+chunkTagSize)
	if lastChunkPlaintext < 0 {
		lastChunkPlaintext = 0
	}
	return (n-1)*p + lastChunkPlaintext
}
