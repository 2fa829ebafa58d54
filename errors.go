package cryptofs

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for the failures the core detects itself; host I/O
// failures are reported as HostError instead. Callers check with errors.Is.
var (
	ErrNotFound           = errors.New("path not found")
	ErrAlreadyExists      = errors.New("path already exists")
	ErrNotADirectory      = errors.New("not a directory")
	ErrIsADirectory       = errors.New("is a directory")
	ErrNotEmpty           = errors.New("directory not empty")
	ErrInvalidName        = errors.New("invalid cleartext name")
	ErrCorruptedFile      = errors.New("corrupted file")
	ErrCorruptedDirectory = errors.New("corrupted directory")
	ErrReadOnlyFileSystem = errors.New("read-only filesystem")
	ErrClosed             = errors.New("filesystem closed")
	ErrAuthFailed         = errors.New("authentication failed - data may be corrupted or tampered")
)

// PathError reports a failure for a specific cleartext path, categorized by
// one of the sentinel errors above (not-found, already-exists,
// not-a-directory, is-a-directory, not-empty, invalid-name, read-only).
type PathError struct {
	Op   string // e.g. "open", "mkdir", "move"
	Path string
	Kind error // one of the sentinel Err* values
	Err  error // underlying error, if any
}

func (e *PathError) Error() string {
	if e.Err != nil && e.Err != e.Kind {
		return fmt.Sprintf("cryptofs: %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("cryptofs: %s %s: %v", e.Op, e.Path, e.Kind)
}

func (e *PathError) Unwrap() error {
	return e.Kind
}

func newPathError(op, path string, kind error) error {
	return &PathError{Op: op, Path: path, Kind: kind}
}

func wrapPathError(op, path string, kind, err error) error {
	return &PathError{Op: op, Path: path, Kind: kind, Err: err}
}

// CorruptionError marks a crypto authentication failure or a malformed
// on-disk structure (header, dir.c9r, sidecar). It is never silently
// recovered; callers must surface it.
type CorruptionError struct {
	Path     string
	ChunkIdx int64 // -1 if not chunk-specific
	Kind     error // ErrCorruptedFile or ErrCorruptedDirectory
	Message  string
	Err      error
}

func (e *CorruptionError) Error() string {
	if e.ChunkIdx >= 0 {
		return fmt.Sprintf("cryptofs: %v: %s (chunk %d): %s", e.Kind, e.Path, e.ChunkIdx, e.Message)
	}
	return fmt.Sprintf("cryptofs: %v: %s: %s", e.Kind, e.Path, e.Message)
}

func (e *CorruptionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

func newCorruptionError(path string, chunkIdx int64, kind error, message string) error {
	return &CorruptionError{Path: path, ChunkIdx: chunkIdx, Kind: kind, Message: message}
}

// HostError wraps a passthrough error from the backing host filesystem.
// The core never retries host I/O; retrying is the caller's responsibility.
type HostError struct {
	Op   string
	Path string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("cryptofs: host %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

func wrapHostError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &HostError{Op: op, Path: path, Err: err}
}

// IsNotFound reports whether err indicates a missing path component.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err indicates a create/move collided with
// an existing entry.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsCorrupted reports whether err indicates authentication or structural
// corruption was detected anywhere in the vault.
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrCorruptedFile) || errors.Is(err, ErrCorruptedDirectory)
}

// IsReadOnly reports whether err indicates a mutation was rejected because
// the mount is read-only.
func IsReadOnly(err error) bool { return errors.Is(err, ErrReadOnlyFileSystem) }
