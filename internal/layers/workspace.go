package layers

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
)

// shortIDs caches workspace path → short identifier. Identifiers are
// pure functions of the canonical path, so entries never go stale.
var shortIDs sync.Map

// WorkspaceID derives the stable 8-hex-character identifier for a
// workspace path. The path is canonicalized first so that symlinked and
// relative spellings of the same workspace agree.
func WorkspaceID(path string) string {
	canonical := path
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		canonical = resolved
	}
	if abs, err := filepath.Abs(canonical); err == nil {
		canonical = abs
	}

	if id, ok := shortIDs.Load(canonical); ok {
		return id.(string)
	}
	sum := sha256.Sum256([]byte(canonical))
	id := hex.EncodeToString(sum[:])[:8]
	shortIDs.Store(canonical, id)
	return id
}
