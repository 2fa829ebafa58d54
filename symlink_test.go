package cryptofs

import "testing"

func TestSymlinkCreateAndReadlink(t *testing.T) {
	vfs, _ := newTestVault(t)
	if err := vfs.Symlink("/target/does/not/need/to/exist.txt", "/link.txt"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	target, err := vfs.Readlink("/link.txt")
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "/target/does/not/need/to/exist.txt" {
		t.Errorf("Readlink = %q, want %q", target, "/target/does/not/need/to/exist.txt")
	}
}

func TestSymlinkIsClassifiedAsSymlinkNotFile(t *testing.T) {
	vfs, _ := newTestVault(t)
	if err := vfs.Symlink("/elsewhere", "/link"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	attr, err := vfs.Stat("/link")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !attr.IsLink {
		t.Error("Stat(/link).IsLink = false, want true")
	}
	if attr.IsDir {
		t.Error("Stat(/link).IsDir = true, want false")
	}
}

func TestSymlinkRejectsExistingPath(t *testing.T) {
	vfs, _ := newTestVault(t)
	f, err := vfs.Create("/taken.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()
	if err := vfs.Symlink("/whatever", "/taken.txt"); err == nil {
		t.Fatal("expected Symlink to reject an already-existing path")
	}
}

func TestReadlinkRejectsNonSymlink(t *testing.T) {
	vfs, _ := newTestVault(t)
	f, err := vfs.Create("/plain.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()
	if _, err := vfs.Readlink("/plain.txt"); err == nil {
		t.Fatal("expected Readlink on a regular file to fail")
	}
}

func TestSymlinkShortenedLongTarget(t *testing.T) {
	vfs, _ := newTestVault(t, WithShorteningThreshold(24))
	if err := vfs.Symlink("/x", "/a-fairly-long-cleartext-symlink-name"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	target, err := vfs.Readlink("/a-fairly-long-cleartext-symlink-name")
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "/x" {
		t.Errorf("Readlink = %q, want %q", target, "/x")
	}
}

func TestSymlinkListedInReadDir(t *testing.T) {
	vfs, _ := newTestVault(t)
	if err := vfs.Symlink("/x", "/link"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	entries, err := vfs.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "link" || !entries[0].IsLink {
		t.Errorf("ReadDir(/) = %+v, want one IsLink entry named link", entries)
	}
}
