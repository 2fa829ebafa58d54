package cryptofs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// CipherSuite selects the AEAD used for file headers and chunk bodies.
// Filename encryption always uses AES-SIV regardless of this setting,
// because filenames require deterministic ciphertext (same cleartext name
// under the same parent DirId must always produce the same ciphertext
// name) while chunk/header encryption must never reuse a nonce.
type CipherSuite uint8

const (
	// CipherAES256GCM uses AES-256 with Galois/Counter Mode.
	CipherAES256GCM CipherSuite = iota
	// CipherChaCha20Poly1305 uses the ChaCha20 stream cipher with a
	// Poly1305 message authentication code.
	CipherChaCha20Poly1305
)

func (c CipherSuite) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// FileHeader is the decrypted form of a ciphertext file's preamble: a
// random nonce and the random per-file content key it wraps. Chunks are
// encrypted under ContentKey, never under the vault master key directly;
// the master key only seals the header.
type FileHeader struct {
	Nonce      []byte
	ContentKey []byte
}

// Cryptor is the opaque cryptographic capability the core is built
// against. Key wrapping, header encryption, chunk AEAD and filename
// encryption are all supplied by this facade; the core never manipulates
// raw key material itself.
type Cryptor interface {
	HeaderSize() int
	ChunkPlaintextSize() int
	ChunkCiphertextSize() int

	NewHeader() (*FileHeader, error)
	EncodeHeader(h *FileHeader) ([]byte, error)
	DecodeHeader(raw []byte) (*FileHeader, error)

	EncryptChunk(h *FileHeader, chunkIndex int64, plaintext []byte) ([]byte, error)
	DecryptChunk(h *FileHeader, chunkIndex int64, ciphertext []byte) ([]byte, error)

	// EncryptFilename returns the raw (unencoded) SIV ciphertext for name
	// under parent directory dirID. The filename codec is responsible for
	// base64url-encoding this and applying shortening.
	EncryptFilename(name string, dirID DirID) ([]byte, error)
	DecryptFilename(ciphertext []byte, dirID DirID) (string, error)
}

// aeadCryptor is the default Cryptor, built from a single vault master key
// via HKDF-derived subkeys: one for wrapping per-file content keys, one for
// the AES-SIV filename cipher. Using HKDF here (instead of ad hoc
// copy-and-XOR key splitting) means a single master key can safely serve
// two different algorithms with domain-separated subkeys.
type aeadCryptor struct {
	suite        CipherSuite
	wrapAEAD     cipher.AEAD // wraps/unwraps per-file content keys inside headers
	newContentAEAD func(key []byte) (cipher.AEAD, error)
	siv          *sivEngine
	chunkSize    int
}

// NewCryptor derives an aeadCryptor from a 32-byte vault master key.
func NewCryptor(masterKey []byte, suite CipherSuite, chunkPlaintextSize int) (Cryptor, error) {
	if len(masterKey) != contentKeySize {
		return nil, fmt.Errorf("cryptofs: master key must be %d bytes, got %d", contentKeySize, len(masterKey))
	}
	if chunkPlaintextSize <= 0 {
		chunkPlaintextSize = DefaultChunkPlaintextSize
	}

	wrapKey := make([]byte, 32)
	if err := hkdfExpand(masterKey, []byte("cryptofs-header-wrap"), wrapKey); err != nil {
		return nil, err
	}
	sivKey := make([]byte, 64)
	if err := hkdfExpand(masterKey, []byte("cryptofs-filename-siv"), sivKey); err != nil {
		return nil, err
	}

	newAEAD, err := aeadConstructor(suite)
	if err != nil {
		return nil, err
	}
	wrapAEAD, err := newAEAD(wrapKey)
	if err != nil {
		return nil, err
	}
	siv, err := newSIVEngine(sivKey)
	if err != nil {
		return nil, err
	}

	return &aeadCryptor{
		suite:          suite,
		wrapAEAD:       wrapAEAD,
		newContentAEAD: newAEAD,
		siv:            siv,
		chunkSize:      chunkPlaintextSize,
	}, nil
}

func aeadConstructor(suite CipherSuite) (func(key []byte) (cipher.AEAD, error), error) {
	switch suite {
	case CipherAES256GCM:
		return func(key []byte) (cipher.AEAD, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewGCM(block)
		}, nil
	case CipherChaCha20Poly1305:
		return chacha20poly1305.New, nil
	default:
		return nil, fmt.Errorf("cryptofs: unsupported cipher suite %v", suite)
	}
}

func hkdfExpand(secret, info []byte, out []byte) error {
	r := hkdf.New(sha256.New, secret, nil, info)
	_, err := io.ReadFull(r, out)
	return err
}

func (c *aeadCryptor) HeaderSize() int          { return headerSize() }
func (c *aeadCryptor) ChunkPlaintextSize() int  { return c.chunkSize }
func (c *aeadCryptor) ChunkCiphertextSize() int { return chunkCiphertextSize(c.chunkSize) }

func (c *aeadCryptor) NewHeader() (*FileHeader, error) {
	nonce := make([]byte, headerNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptofs: generate header nonce: %w", err)
	}
	key := make([]byte, contentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cryptofs: generate content key: %w", err)
	}
	return &FileHeader{Nonce: nonce, ContentKey: key}, nil
}

func (c *aeadCryptor) EncodeHeader(h *FileHeader) ([]byte, error) {
	wrapped := c.wrapAEAD.Seal(nil, h.Nonce, h.ContentKey, nil)
	out := make([]byte, 0, headerSize())
	out = append(out, h.Nonce...)
	out = append(out, wrapped...)
	return out, nil
}

func (c *aeadCryptor) DecodeHeader(raw []byte) (*FileHeader, error) {
	if len(raw) != headerSize() {
		return nil, newCorruptionError("", -1, ErrCorruptedFile, "truncated header")
	}
	nonce := raw[:headerNonceSize]
	wrapped := raw[headerNonceSize:]
	key, err := c.wrapAEAD.Open(nil, nonce, wrapped, nil)
	if err != nil {
		return nil, newCorruptionError("", -1, ErrCorruptedFile, "header authentication failed")
	}
	return &FileHeader{Nonce: append([]byte(nil), nonce...), ContentKey: key}, nil
}

func (c *aeadCryptor) EncryptChunk(h *FileHeader, chunkIndex int64, plaintext []byte) ([]byte, error) {
	aead, err := c.newContentAEAD(h.ContentKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chunkNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptofs: generate chunk nonce: %w", err)
	}
	aad := chunkIndexAAD(h.Nonce, chunkIndex)
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func (c *aeadCryptor) DecryptChunk(h *FileHeader, chunkIndex int64, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chunkNonceSize+chunkTagSize {
		return nil, newCorruptionError("", chunkIndex, ErrCorruptedFile, "truncated chunk")
	}
	aead, err := c.newContentAEAD(h.ContentKey)
	if err != nil {
		return nil, err
	}
	nonce := ciphertext[:chunkNonceSize]
	body := ciphertext[chunkNonceSize:]
	aad := chunkIndexAAD(h.Nonce, chunkIndex)
	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, newCorruptionError("", chunkIndex, ErrCorruptedFile, "chunk authentication failed")
	}
	return plaintext, nil
}

func (c *aeadCryptor) EncryptFilename(name string, dirID DirID) ([]byte, error) {
	return c.siv.Encrypt([]byte(name), []byte(dirID))
}

func (c *aeadCryptor) DecryptFilename(ciphertext []byte, dirID DirID) (string, error) {
	plaintext, err := c.siv.Decrypt(ciphertext, []byte(dirID))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// --- AES-SIV (RFC 5297), used only for deterministic filename encryption ---
//
// Kept close to the teacher's SIVEngine on purpose, the same way
// parallel.go and key_rotation.go are: RFC 5297 defines exactly one S2V/
// CMAC/CTR construction, and there is no "more idiomatic" way to decompose
// double-and-xor, CMAC subkey derivation, or the padding step without
// risking a transcription bug in an authentication primitive — a wrong
// byte here breaks AEAD-adjacent authentication silently rather than
// failing to compile. The one behavioral change from the teacher is
// feeding the parent DirId in as associated data, so a cleartext name
// reused under two different directories never produces the same
// ciphertext name.
type sivEngine struct {
	k1    []byte
	k2    []byte
	block cipher.Block
}

func newSIVEngine(key []byte) (*sivEngine, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("cryptofs: AES-SIV requires a 64-byte key, got %d", len(key))
	}
	k1, k2 := key[:32], key[32:]
	block, err := aes.NewCipher(k2)
	if err != nil {
		return nil, fmt.Errorf("cryptofs: create SIV block cipher: %w", err)
	}
	return &sivEngine{k1: k1, k2: k2, block: block}, nil
}

func (e *sivEngine) Encrypt(plaintext []byte, ad ...[]byte) ([]byte, error) {
	siv := e.s2v(plaintext, ad...)
	ciphertext := make([]byte, len(plaintext))
	e.ctrMode(siv, plaintext, ciphertext)
	out := make([]byte, 16+len(ciphertext))
	copy(out[:16], siv)
	copy(out[16:], ciphertext)
	return out, nil
}

func (e *sivEngine) Decrypt(ciphertext []byte, ad ...[]byte) ([]byte, error) {
	if len(ciphertext) < 16 {
		return nil, ErrAuthFailed
	}
	siv := ciphertext[:16]
	ct := ciphertext[16:]
	plaintext := make([]byte, len(ct))
	e.ctrMode(siv, ct, plaintext)
	expected := e.s2v(plaintext, ad...)
	if subtle.ConstantTimeCompare(siv, expected) != 1 {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *sivEngine) s2v(plaintext []byte, ad ...[]byte) []byte {
	block, _ := aes.NewCipher(e.k1)
	d := e.cmac(block, make([]byte, 16))
	for _, a := range ad {
		d = xorBlock(dbl(d), e.cmac(block, a))
	}
	var t []byte
	if len(plaintext) >= 16 {
		t = make([]byte, len(plaintext))
		copy(t, plaintext)
		xorInto(t[len(t)-16:], d)
	} else {
		t = xorBlock(dbl(d), pad(plaintext))
	}
	return e.cmac(block, t)
}

func (e *sivEngine) cmac(block cipher.Block, data []byte) []byte {
	k1, k2 := cmacSubkeys(block)
	n := (len(data) + 15) / 16
	if n == 0 {
		n = 1
	}
	lastBlock := make([]byte, 16)
	if len(data) == 0 || len(data)%16 != 0 {
		copy(lastBlock, data[16*(n-1):])
		lastBlock = pad(lastBlock[:len(data)%16])
		xorInto(lastBlock, k2)
	} else {
		copy(lastBlock, data[16*(n-1):])
		xorInto(lastBlock, k1)
	}
	mac := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		chunk := data[i*16 : (i+1)*16]
		xorInto(mac, chunk)
		block.Encrypt(mac, mac)
	}
	xorInto(mac, lastBlock)
	block.Encrypt(mac, mac)
	return mac
}

func (e *sivEngine) ctrMode(iv, src, dst []byte) {
	ctr := make([]byte, 16)
	copy(ctr, iv)
	ctr[8] &= 0x7f
	ctr[12] &= 0x7f
	stream := cipher.NewCTR(e.block, ctr)
	stream.XORKeyStream(dst, src)
}

func dbl(block []byte) []byte {
	result := make([]byte, 16)
	carry := uint64(0)
	for i := 0; i < 2; i++ {
		offset := (1 - i) * 8
		val := binary.BigEndian.Uint64(block[offset : offset+8])
		newVal := (val << 1) | carry
		binary.BigEndian.PutUint64(result[offset:offset+8], newVal)
		carry = val >> 63
	}
	if carry != 0 {
		result[15] ^= 0x87
	}
	return result
}

func pad(data []byte) []byte {
	result := make([]byte, 16)
	copy(result, data)
	result[len(data)] = 0x80
	return result
}

func xorBlock(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := 0; i < len(a) && i < len(b); i++ {
		result[i] = a[i] ^ b[i]
	}
	return result
}

func xorInto(a, b []byte) {
	for i := 0; i < len(a) && i < len(b); i++ {
		a[i] ^= b[i]
	}
}

func cmacSubkeys(block cipher.Block) ([]byte, []byte) {
	l := make([]byte, 16)
	block.Encrypt(l, l)
	k1 := dbl(l)
	k2 := dbl(k1)
	return k1, k2
}
