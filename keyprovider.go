package cryptofs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// MasterkeyFile is the on-disk, password-wrapped form of a vault's master
// key: a KDF salt plus an AES-256-GCM-wrapped key, the vault-file
// counterpart to Cryptomator's masterkey.cryptomator. It is opaque to
// callers; only a MasterkeyLoader reads or writes one.
type MasterkeyFile struct {
	Salt    []byte
	Nonce   []byte
	Wrapped []byte // masterKey sealed under the password-derived KEK
}

// MasterkeyLoader unlocks (or creates) the 32-byte vault master key that
// seeds NewCryptor. Swapping the loader is how a vault moves between a
// password-protected mount, a CI environment-variable mount, or (future)
// a hardware-backed key store, without touching any other component.
type MasterkeyLoader interface {
	// Unlock recovers the master key from a previously written
	// MasterkeyFile.
	Unlock(mkf *MasterkeyFile) (masterKey []byte, err error)
	// Create wraps a freshly generated master key into a new
	// MasterkeyFile for first-time vault creation.
	Create() (masterKey []byte, mkf *MasterkeyFile, err error)
}

// HashFunc selects a hash primitive for PBKDF2.
type HashFunc uint8

const (
	SHA256 HashFunc = iota
	SHA512
)

func (hf HashFunc) toHash() (func() hash.Hash, error) {
	switch hf {
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("cryptofs: unsupported hash function %v", hf)
	}
}

// PBKDF2Params tunes the legacy/FIPS-mode password KDF path.
type PBKDF2Params struct {
	Iterations int
	HashFunc   HashFunc
	SaltSize   int
}

func (p *PBKDF2Params) withDefaults() PBKDF2Params {
	out := *p
	if out.Iterations == 0 {
		out.Iterations = 600000
	}
	if out.SaltSize == 0 {
		out.SaltSize = 32
	}
	return out
}

// Argon2idParams tunes the recommended password KDF path.
type Argon2idParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltSize    int
}

func (p *Argon2idParams) withDefaults() Argon2idParams {
	out := *p
	if out.Memory == 0 {
		out.Memory = 64 * 1024
	}
	if out.Iterations == 0 {
		out.Iterations = 3
	}
	if out.Parallelism == 0 {
		out.Parallelism = 4
	}
	if out.SaltSize == 0 {
		out.SaltSize = 32
	}
	return out
}

// PasswordMasterkeyLoader unlocks the vault master key by deriving a
// key-encryption key from a user password, then AES-256-GCM
// unwrapping/wrapping the stored master key under it. Argon2id is the
// recommended path; PBKDF2 is kept for environments pinned to a FIPS
// validated module.
type PasswordMasterkeyLoader struct {
	password     []byte
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

// NewPasswordMasterkeyLoader builds a loader using Argon2id (recommended).
func NewPasswordMasterkeyLoader(password []byte, params Argon2idParams) *PasswordMasterkeyLoader {
	return &PasswordMasterkeyLoader{
		password:     password,
		useArgon2id:  true,
		argon2Params: params.withDefaults(),
	}
}

// NewPasswordMasterkeyLoaderPBKDF2 builds a loader using PBKDF2.
func NewPasswordMasterkeyLoaderPBKDF2(password []byte, params PBKDF2Params) *PasswordMasterkeyLoader {
	return &PasswordMasterkeyLoader{
		password:     password,
		useArgon2id:  false,
		pbkdf2Params: params.withDefaults(),
	}
}

func (p *PasswordMasterkeyLoader) deriveKEK(salt []byte) ([]byte, error) {
	if len(p.password) == 0 {
		return nil, fmt.Errorf("cryptofs: password cannot be empty")
	}
	if p.useArgon2id {
		return argon2.IDKey(p.password, salt, p.argon2Params.Iterations, p.argon2Params.Memory, p.argon2Params.Parallelism, contentKeySize), nil
	}
	hashFunc, err := p.pbkdf2Params.HashFunc.toHash()
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key(p.password, salt, p.pbkdf2Params.Iterations, contentKeySize, hashFunc), nil
}

func (p *PasswordMasterkeyLoader) saltSize() int {
	if p.useArgon2id {
		return p.argon2Params.SaltSize
	}
	return p.pbkdf2Params.SaltSize
}

func (p *PasswordMasterkeyLoader) Unlock(mkf *MasterkeyFile) ([]byte, error) {
	kek, err := p.deriveKEK(mkf.Salt)
	if err != nil {
		return nil, err
	}
	aead, err := newAESGCM(kek)
	if err != nil {
		return nil, err
	}
	masterKey, err := aead.Open(nil, mkf.Nonce, mkf.Wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptofs: %w: incorrect password or corrupted masterkey file", ErrAuthFailed)
	}
	return masterKey, nil
}

func (p *PasswordMasterkeyLoader) Create() ([]byte, *MasterkeyFile, error) {
	salt := make([]byte, p.saltSize())
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("cryptofs: generate salt: %w", err)
	}
	masterKey := make([]byte, contentKeySize)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, nil, fmt.Errorf("cryptofs: generate master key: %w", err)
	}
	kek, err := p.deriveKEK(salt)
	if err != nil {
		return nil, nil, err
	}
	aead, err := newAESGCM(kek)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("cryptofs: generate nonce: %w", err)
	}
	wrapped := aead.Seal(nil, nonce, masterKey, nil)
	return masterKey, &MasterkeyFile{Salt: salt, Nonce: nonce, Wrapped: wrapped}, nil
}

// EnvMasterkeyLoader reads a raw 32-byte master key from an environment
// variable, for CI and scripted test mounts where no interactive password
// is available. It never wraps a MasterkeyFile; Create panics-free-errors
// if called, since there is nothing to derive from.
type EnvMasterkeyLoader struct {
	EnvVar string
}

func (e *EnvMasterkeyLoader) Unlock(*MasterkeyFile) ([]byte, error) {
	raw := os.Getenv(e.EnvVar)
	if raw == "" {
		return nil, fmt.Errorf("cryptofs: environment variable %s not set", e.EnvVar)
	}
	key := []byte(raw)
	if len(key) != contentKeySize {
		return nil, fmt.Errorf("cryptofs: key from %s must be %d bytes, got %d", e.EnvVar, contentKeySize, len(key))
	}
	return key, nil
}

func (e *EnvMasterkeyLoader) Create() ([]byte, *MasterkeyFile, error) {
	return nil, nil, fmt.Errorf("cryptofs: EnvMasterkeyLoader cannot create a new vault")
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
