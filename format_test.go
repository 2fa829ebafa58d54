package cryptofs

import "testing"

func TestChunkCiphertextSize(t *testing.T) {
	got := chunkCiphertextSize(32 * 1024)
	want := chunkNonceSize + 32*1024 + chunkTagSize
	if got != want {
		t.Errorf("chunkCiphertextSize() = %d, want %d", got, want)
	}
}

func TestChunkCountForSize(t *testing.T) {
	tests := []struct {
		size      int64
		chunkSize int
		want      int64
	}{
		{0, 1024, 0},
		{1, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{1024 * 1024, 1024, 1024},
	}
	for _, tt := range tests {
		if got := chunkCountForSize(tt.size, tt.chunkSize); got != tt.want {
			t.Errorf("chunkCountForSize(%d, %d) = %d, want %d", tt.size, tt.chunkSize, got, tt.want)
		}
	}
}

// TestCleartextSizeRoundTrip checks the size formula against every
// ciphertext length a real file of size n would actually produce, for a
// range of cleartext sizes spanning zero chunks, one partial chunk, one
// full chunk, and several full-plus-partial chunks.
func TestCleartextSizeRoundTrip(t *testing.T) {
	const p = 1024
	sizes := []int64{0, 1, p - 1, p, p + 1, 3*p - 1, 3 * p, 3*p + 500}
	for _, size := range sizes {
		n := chunkCountForSize(size, p)
		ciphertextLen := int64(headerSize())
		remaining := size
		for i := int64(0); i < n; i++ {
			chunkPlain := remaining
			if chunkPlain > p {
				chunkPlain = p
			}
			ciphertextLen += int64(chunkCiphertextSize(int(chunkPlain)))
			remaining -= chunkPlain
		}
		got := cleartextSizeFromCiphertextLength(ciphertextLen, p)
		if got != size {
			t.Errorf("cleartextSizeFromCiphertextLength(%d) = %d, want %d", ciphertextLen, got, size)
		}
	}
}

func TestCleartextSizeFromEmptyCiphertext(t *testing.T) {
	if got := cleartextSizeFromCiphertextLength(0, 1024); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := cleartextSizeFromCiphertextLength(int64(headerSize()), 1024); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestChunkIndexAADBindsPositionAndHeader(t *testing.T) {
	nonce1 := []byte("123456789012")
	nonce2 := []byte("abcdefghijkl")

	a := chunkIndexAAD(nonce1, 0)
	b := chunkIndexAAD(nonce1, 1)
	if string(a) == string(b) {
		t.Errorf("AAD must differ across chunk indices")
	}
	c := chunkIndexAAD(nonce2, 0)
	if string(a) == string(c) {
		t.Errorf("AAD must differ across file headers even at the same chunk index")
	}
}
