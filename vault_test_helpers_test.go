package cryptofs

import (
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

// newTestVault builds a freshly created in-memory vault for tests, along
// with the backing host filesystem in case a test needs to poke at raw
// ciphertext directly.
func newTestVault(t *testing.T, opts ...Option) (*CryptoFileSystem, absfs.FileSystem) {
	t.Helper()
	host, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	cfg := NewConfig(opts...)
	cryptor, err := NewCryptor(testMasterKey(), CipherAES256GCM, cfg.ChunkPlaintextSize)
	if err != nil {
		t.Fatalf("NewCryptor: %v", err)
	}
	cfg.Cryptor = cryptor
	vfs, err := Create(host, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return vfs, host
}
