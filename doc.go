// Package cryptofs implements the core of an encrypting virtual
// filesystem: it translates a cleartext directory tree into ciphertext
// stored on a backing host filesystem, using the same vault shape as
// Cryptomator's cryptofs — a flat "d/XX/YYY..." bucket space addressed by
// opaque 36-byte directory identifiers (DirIds), content-addressed rather
// than path-addressed, so that renaming a directory never touches any of
// its descendants' ciphertext.
//
// # Overview
//
// Every cleartext directory has its own DirId, persisted in a dir.c9r
// file inside the ciphertext bucket the DirId hashes to. A cleartext
// name is mapped to its ciphertext sibling deterministically (AES-SIV
// under the parent DirId), so resolving a path never requires listing a
// directory and decrypting every child's name to find a match. Names
// whose ciphertext form would be too long for common host filesystems
// are wrapped in a ".c9s" shortened directory with a name.c9s sidecar
// carrying the full encrypted name.
//
// File bodies are a fixed-size header (wrapping a random per-file
// content key) followed by a sequence of independently authenticated
// chunks, each bound to its position by associated data so ciphertext
// chunks can never be silently reordered or spliced between files.
//
// # Supported Cipher Suites
//
//   - AES-256-GCM: chunk and header AEAD, hardware-accelerated on modern
//     CPUs via AES-NI.
//   - ChaCha20-Poly1305: chunk and header AEAD, for hosts without AES-NI.
//
// Filenames always use AES-SIV (RFC 5297) regardless of the chunk
// cipher choice, since filename ciphertext must be deterministic while
// chunk/header ciphertext must never repeat a nonce under the same key.
//
// # Basic Usage
//
//	host, err := memfs.NewFS()
//	loader := cryptofs.NewPasswordMasterkeyLoader([]byte("hunter2"), cryptofs.Argon2idParams{})
//	cfg := cryptofs.NewConfig(cryptofs.WithMasterkeyLoader(loader))
//
//	vault, err := cryptofs.Create(host, cfg) // mints a masterkey, writes vault.cryptofs
//	f, err := vault.Create("/secret.txt")
//	f.Write([]byte("this will be encrypted on disk"))
//	f.Close()
//
// # Concurrency
//
// At most one OpenCryptoFile coordinator exists per ciphertext path at a
// time (enforced by the OpenCryptoFiles registry); every cleartext
// channel opened onto the same file shares its chunk cache and its lock,
// so concurrent readers and writers on one cleartext path can never
// observe a half-written chunk.
//
// # Not Protected Against
//
//   - Memory dumps while files are decrypted in memory.
//   - Metadata leakage the host filesystem itself exposes (entry count,
//     approximate ciphertext size, access times).
//   - A compromised host filesystem driver that lies about file contents
//     in ways the AEAD tag alone cannot catch before decryption is
//     attempted.
package cryptofs
