// Package identity loads and persists the node's UUID, the one piece
// of state that must survive process restarts untouched.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// NodeIdentity is immutable once loaded.
type NodeIdentity struct {
	UUID uuid.UUID
	Name string
}

const identityFileName = "identity"
const lockFileName = "identity.lock"

// Load reads the identity file under dataDir, creating it with a fresh
// random UUID if absent. name is the human-readable node name to pair
// with the persisted UUID; it is not itself persisted by this package.
//
// A sibling lock file guards against two processes racing to create or
// claim the same identity directory.
func Load(dataDir, name string) (*NodeIdentity, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock identity dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("identity dir %s is already claimed by another instance", dataDir)
	}
	defer lock.Unlock() //nolint:errcheck

	path := filepath.Join(dataDir, identityFileName)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		id, parseErr := uuid.Parse(strings.TrimSpace(string(raw)))
		if parseErr != nil {
			return nil, fmt.Errorf("parse identity file %s: %w", path, parseErr)
		}
		return &NodeIdentity{UUID: id, Name: name}, nil
	case os.IsNotExist(err):
		id, genErr := uuid.NewRandom()
		if genErr != nil {
			return nil, fmt.Errorf("generate node identity: %w", genErr)
		}
		if writeErr := os.WriteFile(path, []byte(id.String()), 0o644); writeErr != nil {
			return nil, fmt.Errorf("write identity file %s: %w", path, writeErr)
		}
		return &NodeIdentity{UUID: id, Name: name}, nil
	default:
		return nil, fmt.Errorf("read identity file %s: %w", path, err)
	}
}
