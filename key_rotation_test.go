package cryptofs

import (
	"bytes"
	"testing"
)

func TestRotateKeysReEncryptsContentUnderNewCryptor(t *testing.T) {
	vfs, host := newTestVault(t)
	if err := vfs.Mkdir("/docs"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	f, err := vfs.Create("/docs/a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := []byte("content that must survive key rotation")
	if _, err := f.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	newKey := make([]byte, contentKeySize)
	for i := range newKey {
		newKey[i] = byte(255 - i)
	}
	newCryptor, err := NewCryptor(newKey, CipherAES256GCM, 0)
	if err != nil {
		t.Fatalf("NewCryptor: %v", err)
	}

	rotated, err := vfs.RotateKeys("/", RotationOptions{NewCryptor: newCryptor})
	if err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if rotated != 1 {
		t.Fatalf("rotated = %d, want 1", rotated)
	}

	// Names are not rotated, so the vault still resolves the path, but the
	// header was rewritten under newCryptor: opening the file through the
	// original vfs (which still wraps vfs.cryptor) must fail to
	// authenticate when the header is decoded.
	if _, err := vfs.Open("/docs/a.txt"); !IsCorrupted(err) {
		t.Errorf("Open through the old Cryptor: err = %v, want a corruption error", err)
	}
	// The same ciphertext read with newCryptor yields the original content.
	entry, err := vfs.mapper.resolve("/docs/a.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ocf, err := openCryptoFile(host, newCryptor, entry.CiphertextDataPath, false, defaultChunkCacheSize)
	if err != nil {
		t.Fatalf("openCryptoFile under newCryptor: %v", err)
	}
	defer ocf.Close()
	got := make([]byte, len(want))
	if _, err := ocf.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt under newCryptor: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestRotateKeysDryRunChangesNothing(t *testing.T) {
	vfs, _ := newTestVault(t)
	f, err := vfs.Create("/a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := []byte("untouched")
	f.Write(want)
	f.Close()

	newCryptor, _ := NewCryptor(testMasterKey(), CipherChaCha20Poly1305, 0)
	rotated, err := vfs.RotateKeys("/", RotationOptions{NewCryptor: newCryptor, DryRun: true})
	if err != nil {
		t.Fatalf("RotateKeys dry run: %v", err)
	}
	if rotated != 1 {
		t.Errorf("dry run rotated count = %d, want 1", rotated)
	}

	f2, err := vfs.Open("/a.txt")
	if err != nil {
		t.Fatalf("Open after dry run: %v", err)
	}
	defer f2.Close()
	got := make([]byte, len(want))
	if _, err := f2.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt after dry run: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("dry run must not modify file content")
	}
}

func TestRotateKeysRequiresNewCryptor(t *testing.T) {
	vfs, _ := newTestVault(t)
	if _, err := vfs.RotateKeys("/", RotationOptions{}); err == nil {
		t.Fatal("expected RotateKeys to require a NewCryptor")
	}
}

func TestRotateKeysCountsNestedFiles(t *testing.T) {
	vfs, _ := newTestVault(t)
	if err := vfs.Mkdir("/a"); err != nil {
		t.Fatalf("Mkdir /a: %v", err)
	}
	if err := vfs.Mkdir("/a/b"); err != nil {
		t.Fatalf("Mkdir /a/b: %v", err)
	}
	for _, p := range []string{"/one.txt", "/a/two.txt", "/a/b/three.txt"} {
		f, err := vfs.Create(p)
		if err != nil {
			t.Fatalf("Create(%s): %v", p, err)
		}
		f.Write([]byte("x"))
		f.Close()
	}

	newCryptor, _ := NewCryptor(testMasterKey(), CipherChaCha20Poly1305, 0)
	rotated, err := vfs.RotateKeys("/", RotationOptions{NewCryptor: newCryptor})
	if err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if rotated != 3 {
		t.Errorf("rotated = %d, want 3", rotated)
	}
}
