package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/collabmesh/substrate/internal/security"
	"github.com/collabmesh/substrate/internal/validation"
)

// resolveSafePath validates path against baseDir before a file is touched.
// When baseDir is an existing absolute directory it prefers the os.Root
// backed validation.PathValidator, which resolves symlinks before checking
// containment; security.SafeJoin's plain string check is the fallback for
// the relative or not-yet-created baseDirs tests and fresh exports use.
func resolveSafePath(path, baseDir string) string {
	candidate := path
	if baseDir != "" && filepath.IsAbs(path) {
		if rel, err := filepath.Rel(baseDir, path); err == nil {
			candidate = rel
		}
	}
	if baseDir != "" && filepath.IsAbs(baseDir) {
		if validator, err := validation.NewPathValidator(baseDir); err == nil {
			defer validator.Close()
			if cleaned, err := validator.ValidatePath(candidate); err == nil {
				return filepath.Join(baseDir, cleaned)
			}
		}
	}
	safePath, err := security.SafeJoin(baseDir, candidate)
	if err != nil {
		return path
	}
	return safePath
}

// exportDocument is the on-disk shape written by Export: a strict superset
// of what Import restores (it additionally lets an operator eyeball the
// exported_at timestamp and node count without parsing the node array).
type exportDocument struct {
	ExportedAtUnix int64         `json:"exported_at_unix"`
	NodeCount      int           `json:"node_count"`
	Nodes          []*MemoryNode `json:"nodes"`
}

// Export writes every node to path as JSON, resolving path against baseDir
// with resolveSafePath before the file is written.
func (g *Graph) Export(path, baseDir string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	safePath := resolveSafePath(path, baseDir)

	all, err := g.store.All()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	doc := exportDocument{ExportedAtUnix: time.Now().Unix(), NodeCount: len(all), Nodes: all}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	if err := os.WriteFile(safePath, data, 0o600); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	return nil
}

// Import reads a document written by Export and inserts any node not
// already present, rebuilding indices atomically. Returns the count of
// nodes actually inserted.
func (g *Graph) Import(path, baseDir string) (int, error) {
	safePath := resolveSafePath(path, baseDir)

	data, err := os.ReadFile(safePath)
	if err != nil {
		return 0, fmt.Errorf("read import file: %w", err)
	}

	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse import file: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	inserted := 0
	for _, n := range doc.Nodes {
		if _, err := g.store.Get(n.NodeID); err == nil {
			continue // already present
		}
		if err := g.store.Put(n); err != nil {
			return inserted, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		g.indexNode(n)
		inserted++
	}
	return inserted, nil
}
