package cryptofs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/absfs/absfs"
)

// CryptoFileSystem is the composition root: it owns the host filesystem,
// the unlocked Cryptor, the path translator, the open-file registry and
// the stats collector, and is the single entry point every cleartext
// filesystem operation goes through.
type CryptoFileSystem struct {
	host      absfs.FileSystem
	cfg       *Config
	cryptor   Cryptor
	codec     *nameCodec
	dirIDs    *dirIDStore
	mapper    *CryptoPathMapper
	openFiles *OpenCryptoFiles
	stats     *Stats
}

// Open mounts an already-initialized vault rooted at host. The vault must
// already contain a root bucket (d/<hash of "">/...), as left behind by a
// prior Create. If cfg.Cryptor is nil, the master key is
// recovered by reading the wrapped MasterkeyFile from cfg.VaultConfigFilename
// and unlocking it with cfg.MasterkeyLoader.
func Open(host absfs.FileSystem, cfg *Config) (*CryptoFileSystem, error) {
	if host == nil {
		return nil, fmt.Errorf("cryptofs: host filesystem cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cryptor, err := resolveCryptorForOpen(host, cfg)
	if err != nil {
		return nil, err
	}
	vfs, err := newCryptoFileSystem(host, cfg, cryptor)
	if err != nil {
		return nil, err
	}
	rootBucket := dirBucketPath(rootDirID)
	if _, err := host.Stat(rootBucket); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("cryptofs: vault not initialized at this location: %w", err)
		}
		return nil, wrapHostError("stat", rootBucket, err)
	}
	return vfs, nil
}

// Create initializes a brand-new vault rooted at host: it creates the
// root DirId bucket, then returns a mounted
// CryptoFileSystem. If cfg.Cryptor is nil, cfg.MasterkeyLoader.Create is
// called to mint a fresh master key, whose wrapped MasterkeyFile is
// written to cfg.VaultConfigFilename at the vault root.
func Create(host absfs.FileSystem, cfg *Config) (*CryptoFileSystem, error) {
	if host == nil {
		return nil, fmt.Errorf("cryptofs: host filesystem cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cryptor, err := resolveCryptorForCreate(host, cfg)
	if err != nil {
		return nil, err
	}
	vfs, err := newCryptoFileSystem(host, cfg, cryptor)
	if err != nil {
		return nil, err
	}
	rootBucket := dirBucketPath(rootDirID)
	if err := host.MkdirAll(rootBucket, 0o700); err != nil {
		return nil, wrapHostError("mkdir", rootBucket, err)
	}
	return vfs, nil
}

// resolveCryptorForOpen returns cfg.Cryptor directly when set, otherwise
// unlocks the master key from the on-disk MasterkeyFile via
// cfg.MasterkeyLoader and derives a fresh Cryptor from it.
func resolveCryptorForOpen(host absfs.FileSystem, cfg *Config) (Cryptor, error) {
	if cfg.Cryptor != nil {
		return cfg.Cryptor, nil
	}
	if cfg.MasterkeyLoader == nil {
		return nil, fmt.Errorf("cryptofs: config needs either a Cryptor or a MasterkeyLoader")
	}
	mkf, err := readMasterkeyFile(host, cfg.VaultConfigFilename)
	if err != nil {
		return nil, err
	}
	masterKey, err := cfg.MasterkeyLoader.Unlock(mkf)
	if err != nil {
		return nil, err
	}
	return NewCryptor(masterKey, cfg.CipherSuite, cfg.ChunkPlaintextSize)
}

// resolveCryptorForCreate returns cfg.Cryptor directly when set, otherwise
// mints a new master key via cfg.MasterkeyLoader and persists its wrapped
// MasterkeyFile to the vault root before deriving a Cryptor from it.
func resolveCryptorForCreate(host absfs.FileSystem, cfg *Config) (Cryptor, error) {
	if cfg.Cryptor != nil {
		return cfg.Cryptor, nil
	}
	if cfg.MasterkeyLoader == nil {
		return nil, fmt.Errorf("cryptofs: config needs either a Cryptor or a MasterkeyLoader")
	}
	masterKey, mkf, err := cfg.MasterkeyLoader.Create()
	if err != nil {
		return nil, err
	}
	if err := writeMasterkeyFile(host, cfg.VaultConfigFilename, mkf); err != nil {
		return nil, err
	}
	return NewCryptor(masterKey, cfg.CipherSuite, cfg.ChunkPlaintextSize)
}

// jsonMasterkeyFile is the on-disk encoding of a MasterkeyFile, the vault's
// counterpart to Cryptomator's vault.cryptomator config file.
type jsonMasterkeyFile struct {
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Wrapped []byte `json:"wrapped"`
}

func readMasterkeyFile(host absfs.FileSystem, path string) (*MasterkeyFile, error) {
	f, err := host.Open(path)
	if err != nil {
		return nil, wrapHostError("open", path, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, wrapHostError("read", path, err)
	}
	var jmkf jsonMasterkeyFile
	if err := json.Unmarshal(raw, &jmkf); err != nil {
		return nil, newPathError("open", path, ErrCorruptedFile)
	}
	return &MasterkeyFile{Salt: jmkf.Salt, Nonce: jmkf.Nonce, Wrapped: jmkf.Wrapped}, nil
}

func writeMasterkeyFile(host absfs.FileSystem, path string, mkf *MasterkeyFile) error {
	raw, err := json.Marshal(jsonMasterkeyFile{Salt: mkf.Salt, Nonce: mkf.Nonce, Wrapped: mkf.Wrapped})
	if err != nil {
		return fmt.Errorf("cryptofs: marshal masterkey file: %w", err)
	}
	f, err := host.Create(path)
	if err != nil {
		return wrapHostError("create", path, err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return wrapHostError("write", path, err)
	}
	return nil
}

func newCryptoFileSystem(host absfs.FileSystem, cfg *Config, cryptor Cryptor) (*CryptoFileSystem, error) {
	codec := newNameCodec(cryptor, cfg.FilenameEncryption, cfg.ShorteningThreshold, cfg.MaxCleartextNameLength)
	dirIDs := newDirIDStore(host, cfg.DirIDCacheSize)
	mapper := newCryptoPathMapper(host, codec, dirIDs)
	openFiles := newOpenCryptoFiles(host, cryptor, cfg.ChunkCacheSize)

	return &CryptoFileSystem{
		host:      host,
		cfg:       cfg,
		cryptor:   cryptor,
		codec:     codec,
		dirIDs:    dirIDs,
		mapper:    mapper,
		openFiles: openFiles,
		stats:     newStats(),
	}, nil
}

// Stats returns the vault's stats collector.
func (vfs *CryptoFileSystem) Stats() *Stats { return vfs.stats }

// File is the cleartext-facing handle returned by Open/Create. It
// multiplexes onto the vault's shared OpenCryptoFile for its ciphertext
// path, so concurrently opened handles on the same cleartext file never
// diverge on what's cached or what's been flushed.
type File struct {
	vfs            *CryptoFileSystem
	ciphertextPath string
	ocf            *OpenCryptoFile
	position       int64
	closed         bool
}

// Open opens an existing cleartext file for reading and writing.
func (vfs *CryptoFileSystem) Open(cleartextPath string) (*File, error) {
	entry, err := vfs.mapper.resolve(cleartextPath)
	if err != nil {
		return nil, err
	}
	if entry.Kind == entryMissing {
		return nil, newPathError("open", cleartextPath, ErrNotFound)
	}
	if entry.Kind != entryFile {
		return nil, newPathError("open", cleartextPath, ErrIsADirectory)
	}
	ocf, err := vfs.openFiles.getOrCreate(entry.CiphertextDataPath, false)
	if err != nil {
		return nil, err
	}
	return &File{vfs: vfs, ciphertextPath: entry.CiphertextDataPath, ocf: ocf}, nil
}

// Create creates (or truncates) a cleartext file.
func (vfs *CryptoFileSystem) Create(cleartextPath string) (*File, error) {
	if vfs.cfg.ReadOnly {
		return nil, newPathError("create", cleartextPath, ErrReadOnlyFileSystem)
	}
	parentDirID, parentBucket, name, err := vfs.mapper.resolveParent(cleartextPath)
	if err != nil {
		return nil, err
	}
	existing, err := vfs.mapper.resolveComponent(parentDirID, parentBucket, name)
	if err != nil {
		return nil, err
	}
	if existing.Kind == entryDirectory {
		return nil, newPathError("create", cleartextPath, ErrIsADirectory)
	}

	var dataPath string
	if existing.Kind == entryFile {
		dataPath = existing.CiphertextDataPath
		if vfs.openFiles.isOpen(dataPath) {
			// truncate through the live coordinator so readers of the
			// already-open handle observe the new (empty) content.
			ocf, _ := vfs.openFiles.getOrCreate(dataPath, false)
			if err := ocf.Truncate(0); err != nil {
				vfs.openFiles.close(dataPath)
				return nil, err
			}
			return &File{vfs: vfs, ciphertextPath: dataPath, ocf: ocf}, nil
		}
		if err := vfs.host.Remove(dataPath); err != nil {
			return nil, wrapHostError("remove", dataPath, err)
		}
	} else {
		onDisk, encoded, shortened, err := vfs.codec.encodeEntryName(name, parentDirID)
		if err != nil {
			return nil, err
		}
		nodePath := parentBucket + "/" + onDisk
		dataPath = nodePath
		if shortened {
			if err := vfs.host.Mkdir(nodePath, 0o700); err != nil {
				return nil, wrapHostError("mkdir", nodePath, err)
			}
			if err := writeSidecar(vfs.host, nodePath, encoded); err != nil {
				return nil, err
			}
			dataPath = nodePath + "/" + contentsFilename
		}
	}

	ocf, err := vfs.openFiles.getOrCreate(dataPath, true)
	if err != nil {
		return nil, err
	}
	return &File{vfs: vfs, ciphertextPath: dataPath, ocf: ocf}, nil
}

func (f *File) ReadAt(b []byte, off int64) (int, error) {
	n, err := f.ocf.ReadAt(b, off)
	f.vfs.stats.addBytesRead(n)
	f.vfs.stats.addBytesDecrypted(n)
	if IsCorrupted(err) {
		logCorruption(f.vfs.cfg.logger(), "readat", err)
	}
	if n == 0 && err == nil && off >= f.ocf.Size() {
		return 0, io.EOF
	}
	return n, err
}

func (f *File) WriteAt(b []byte, off int64) (int, error) {
	if f.vfs.cfg.ReadOnly {
		return 0, newPathError("write", f.ciphertextPath, ErrReadOnlyFileSystem)
	}
	n, err := f.ocf.WriteAt(b, off)
	f.vfs.stats.addBytesWritten(n)
	f.vfs.stats.addBytesEncrypted(n)
	return n, err
}

func (f *File) Read(b []byte) (int, error) {
	n, err := f.ReadAt(b, f.position)
	f.position += int64(n)
	return n, err
}

func (f *File) Write(b []byte) (int, error) {
	n, err := f.WriteAt(b, f.position)
	f.position += int64(n)
	return n, err
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.position = offset
	case io.SeekCurrent:
		f.position += offset
	case io.SeekEnd:
		f.position = f.ocf.Size() + offset
	default:
		return 0, fmt.Errorf("cryptofs: invalid whence %d", whence)
	}
	return f.position, nil
}

func (f *File) Truncate(size int64) error {
	if f.vfs.cfg.ReadOnly {
		return newPathError("truncate", f.ciphertextPath, ErrReadOnlyFileSystem)
	}
	return f.ocf.Truncate(size)
}

func (f *File) Size() int64 { return f.ocf.Size() }

func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.vfs.openFiles.close(f.ocf.path())
}
