package cryptofs

import "log/slog"

// logCorruption logs a corruption or authentication failure at Warn with
// the ciphertext path and chunk index attached as structured fields, so
// operators can tell a transient host I/O error apart from tampering or
// bit rot without parsing the error string.
func logCorruption(logger *slog.Logger, op string, err error) {
	ce, ok := err.(*CorruptionError)
	if !ok {
		logger.Warn("operation failed", "op", op, "error", err)
		return
	}
	logger.Warn("corruption detected",
		"op", op,
		"path", ce.Path,
		"chunk", ce.ChunkIdx,
		"kind", ce.Kind,
		"message", ce.Message,
	)
}
