package cryptofs

import (
	"bytes"
	"testing"

	"github.com/absfs/memfs"
)

func TestPasswordMasterkeyLoaderArgon2idRoundTrip(t *testing.T) {
	loader := NewPasswordMasterkeyLoader([]byte("correct horse battery staple"), Argon2idParams{})
	masterKey, mkf, err := loader.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(masterKey) != contentKeySize {
		t.Fatalf("len(masterKey) = %d, want %d", len(masterKey), contentKeySize)
	}

	unlocked, err := loader.Unlock(mkf)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !bytes.Equal(masterKey, unlocked) {
		t.Error("unlocked master key does not match the key that was wrapped")
	}
}

func TestPasswordMasterkeyLoaderPBKDF2RoundTrip(t *testing.T) {
	loader := NewPasswordMasterkeyLoaderPBKDF2([]byte("another password"), PBKDF2Params{Iterations: 1000})
	masterKey, mkf, err := loader.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	unlocked, err := loader.Unlock(mkf)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !bytes.Equal(masterKey, unlocked) {
		t.Error("unlocked master key does not match the key that was wrapped")
	}
}

func TestPasswordMasterkeyLoaderRejectsWrongPassword(t *testing.T) {
	loader := NewPasswordMasterkeyLoader([]byte("right password"), Argon2idParams{})
	_, mkf, err := loader.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wrong := NewPasswordMasterkeyLoader([]byte("wrong password"), Argon2idParams{})
	if _, err := wrong.Unlock(mkf); err == nil {
		t.Fatal("expected Unlock with the wrong password to fail")
	}
}

func TestPasswordMasterkeyLoaderRejectsEmptyPassword(t *testing.T) {
	loader := NewPasswordMasterkeyLoader(nil, Argon2idParams{})
	if _, _, err := loader.Create(); err == nil {
		t.Fatal("expected Create with an empty password to fail")
	}
}

func TestEnvMasterkeyLoaderUnlock(t *testing.T) {
	key := make([]byte, contentKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("CRYPTOFS_TEST_MASTERKEY", string(key))

	loader := &EnvMasterkeyLoader{EnvVar: "CRYPTOFS_TEST_MASTERKEY"}
	got, err := loader.Unlock(nil)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("unlocked key does not match the environment variable")
	}
}

func TestEnvMasterkeyLoaderUnsetVariable(t *testing.T) {
	loader := &EnvMasterkeyLoader{EnvVar: "CRYPTOFS_TEST_MASTERKEY_UNSET"}
	if _, err := loader.Unlock(nil); err == nil {
		t.Fatal("expected an error when the environment variable is unset")
	}
}

func TestEnvMasterkeyLoaderCannotCreate(t *testing.T) {
	loader := &EnvMasterkeyLoader{EnvVar: "CRYPTOFS_TEST_MASTERKEY"}
	if _, _, err := loader.Create(); err == nil {
		t.Fatal("expected Create to fail for EnvMasterkeyLoader")
	}
}

func TestVaultDerivesCryptorFromMasterkeyLoaderAcrossMounts(t *testing.T) {
	host, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	loader := NewPasswordMasterkeyLoader([]byte("correct horse battery staple"), Argon2idParams{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1,
	})

	created, err := Create(host, NewConfig(WithMasterkeyLoader(loader)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := created.Create("/secret.txt")
	if err != nil {
		t.Fatalf("Create(/secret.txt): %v", err)
	}
	if _, err := f.Write([]byte("hunter2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := host.Stat(defaultVaultConfigFilename); err != nil {
		t.Fatalf("expected a MasterkeyFile at %q, got %v", defaultVaultConfigFilename, err)
	}

	reopened, err := Open(host, NewConfig(WithMasterkeyLoader(loader)))
	if err != nil {
		t.Fatalf("Open (same password): %v", err)
	}
	f2, err := reopened.Open("/secret.txt")
	if err != nil {
		t.Fatalf("Open(/secret.txt): %v", err)
	}
	defer f2.Close()
	got := make([]byte, len("hunter2"))
	if _, err := f2.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "hunter2" {
		t.Errorf("got %q, want %q", got, "hunter2")
	}
}

func TestVaultRejectsMasterkeyLoaderWrongPassword(t *testing.T) {
	host, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	right := NewPasswordMasterkeyLoader([]byte("right password"), Argon2idParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1})
	if _, err := Create(host, NewConfig(WithMasterkeyLoader(right))); err != nil {
		t.Fatalf("Create: %v", err)
	}

	wrong := NewPasswordMasterkeyLoader([]byte("wrong password"), Argon2idParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1})
	if _, err := Open(host, NewConfig(WithMasterkeyLoader(wrong))); err == nil {
		t.Fatal("expected Open with the wrong password to fail")
	}
}
