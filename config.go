package cryptofs

import (
	"fmt"
	"log/slog"
)

// FilenameEncryption selects how cleartext names are mapped to ciphertext
// names. The vault format spec.md describes only the deterministic mode;
// FilenameEncryptionNone exists for diagnostic mounts that need to inspect
// a vault's bucket layout without paying the SIV cost.
type FilenameEncryption uint8

const (
	// FilenameEncryptionDeterministic uses AES-SIV, as required by the
	// vault format: identical cleartext name + parent DirId always produce
	// identical ciphertext name.
	FilenameEncryptionDeterministic FilenameEncryption = iota
	// FilenameEncryptionNone passes names through unencrypted. Only valid
	// against a vault that was itself created with this mode; mixing modes
	// within one vault corrupts the directory listing.
	FilenameEncryptionNone
)

const (
	// defaultShorteningThreshold is the ciphertext name length beyond which
	// a name is wrapped in a .c9s shortened directory with a name.c9s
	// sidecar, matching Cryptomator's vault format default.
	defaultShorteningThreshold = 220

	// defaultMaxCleartextNameLength bounds the cleartext name accepted by
	// the codec, independent of the ciphertext shortening threshold.
	defaultMaxCleartextNameLength = 255

	defaultVaultConfigFilename = "vault.cryptofs"
	defaultChunkCacheSize      = 64
	defaultDirIDCacheSize      = 5000
)

// Config holds every tunable of a mounted vault. Build one with NewConfig
// and a list of Options; the zero value is not valid on its own because
// either a MasterkeyLoader or a Cryptor must be supplied.
type Config struct {
	// Cryptor supplies header/chunk AEAD and filename SIV encryption.
	Cryptor Cryptor

	// MasterkeyLoader unlocks the vault's master key. Required unless a
	// Cryptor is supplied directly (tests may construct a Cryptor from a
	// fixed key and skip key management entirely). When set and Cryptor
	// is nil, Open and Create derive the Cryptor themselves: Open reads the wrapped
	// MasterkeyFile from VaultConfigFilename and calls Unlock; Create
	// calls Create and writes the resulting MasterkeyFile there.
	MasterkeyLoader MasterkeyLoader

	// CipherSuite selects the AEAD used for the Cryptor derived from
	// MasterkeyLoader. Ignored when Cryptor is supplied directly.
	CipherSuite CipherSuite

	// FilenameEncryption mode for this vault.
	FilenameEncryption FilenameEncryption

	// ShorteningThreshold is the ciphertext name length above which a
	// .c9s shortened directory is used.
	ShorteningThreshold int

	// MaxCleartextNameLength bounds names accepted through the public API.
	MaxCleartextNameLength int

	// ChunkPlaintextSize is P, the cleartext payload size per chunk of the
	// Cryptor derived from MasterkeyLoader. A Cryptor supplied directly
	// carries its own chunk size, which file bodies and Stat use.
	ChunkPlaintextSize int

	// ChunkCacheSize bounds the number of decrypted chunks held per open
	// file before the least-recently-used one is flushed and evicted.
	ChunkCacheSize int

	// DirIDCacheSize bounds the path -> DirId LRU.
	DirIDCacheSize int

	// VaultConfigFilename is the name of the vault's own config file at
	// the storage root (analogous to Cryptomator's vault.cryptomator).
	VaultConfigFilename string

	// ReadOnly rejects every mutating operation with ErrReadOnlyFileSystem.
	ReadOnly bool

	// Logger receives Debug-level traces of Mkdir, Rmdir, Move and
	// Symlink, and Warn-level traces of corruption detected by File.ReadAt
	// and ReadDir. Defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// NewConfig builds a Config from defaults plus the given Options.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		FilenameEncryption:     FilenameEncryptionDeterministic,
		ShorteningThreshold:    defaultShorteningThreshold,
		MaxCleartextNameLength: defaultMaxCleartextNameLength,
		ChunkPlaintextSize:     DefaultChunkPlaintextSize,
		ChunkCacheSize:         defaultChunkCacheSize,
		DirIDCacheSize:         defaultDirIDCacheSize,
		VaultConfigFilename:    defaultVaultConfigFilename,
		Logger:                 slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithCryptor injects a prepared Cryptor, bypassing MasterkeyLoader.
func WithCryptor(c Cryptor) Option {
	return func(cfg *Config) { cfg.Cryptor = c }
}

// WithMasterkeyLoader sets the masterkey unlock strategy.
func WithMasterkeyLoader(l MasterkeyLoader) Option {
	return func(cfg *Config) { cfg.MasterkeyLoader = l }
}

// WithCipherSuite overrides the AEAD used when deriving a Cryptor from a
// MasterkeyLoader. Has no effect when a Cryptor is supplied via WithCryptor.
func WithCipherSuite(suite CipherSuite) Option {
	return func(cfg *Config) { cfg.CipherSuite = suite }
}

// WithFilenameEncryption sets the filename encryption mode.
func WithFilenameEncryption(mode FilenameEncryption) Option {
	return func(cfg *Config) { cfg.FilenameEncryption = mode }
}

// WithShorteningThreshold overrides the default shortening threshold.
func WithShorteningThreshold(n int) Option {
	return func(cfg *Config) { cfg.ShorteningThreshold = n }
}

// WithMaxCleartextNameLength overrides the default cleartext name length cap.
func WithMaxCleartextNameLength(n int) Option {
	return func(cfg *Config) { cfg.MaxCleartextNameLength = n }
}

// WithChunkPlaintextSize overrides P, the per-chunk cleartext payload size.
func WithChunkPlaintextSize(n int) Option {
	return func(cfg *Config) { cfg.ChunkPlaintextSize = n }
}

// WithCacheSizes overrides the chunk cache and DirId cache capacities.
func WithCacheSizes(chunkCache, dirIDCache int) Option {
	return func(cfg *Config) {
		cfg.ChunkCacheSize = chunkCache
		cfg.DirIDCacheSize = dirIDCache
	}
}

// WithVaultConfigFilename overrides the vault's own config file name.
func WithVaultConfigFilename(name string) Option {
	return func(cfg *Config) { cfg.VaultConfigFilename = name }
}

// WithReadOnly mounts the vault read-only.
func WithReadOnly(ro bool) Option {
	return func(cfg *Config) { cfg.ReadOnly = ro }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// Validate checks that cfg is internally consistent and ready to mount.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("cryptofs: config cannot be nil")
	}
	if cfg.Cryptor == nil && cfg.MasterkeyLoader == nil {
		return fmt.Errorf("cryptofs: config needs either a Cryptor or a MasterkeyLoader")
	}
	if cfg.ShorteningThreshold <= 0 {
		return fmt.Errorf("cryptofs: shortening threshold must be positive")
	}
	if cfg.MaxCleartextNameLength <= 0 {
		return fmt.Errorf("cryptofs: max cleartext name length must be positive")
	}
	if cfg.ChunkPlaintextSize <= 0 {
		return fmt.Errorf("cryptofs: chunk plaintext size must be positive")
	}
	if cfg.ChunkCacheSize <= 0 {
		return fmt.Errorf("cryptofs: chunk cache size must be positive")
	}
	if cfg.DirIDCacheSize <= 0 {
		return fmt.Errorf("cryptofs: dir id cache size must be positive")
	}
	if cfg.VaultConfigFilename == "" {
		return fmt.Errorf("cryptofs: vault config filename cannot be empty")
	}
	return nil
}

func (cfg *Config) logger() *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}
