package model

import (
	"errors"
	"time"
)

// Genre is a node in the hierarchical genre tree.  Deleting a parent sets
// ParentID of its children to nil instead of cascading.
//
// Fields:
//
//	ID        – primary key identifier.
//	Name      – display name.
//	ParentID  – parent genre (nil for a root).
//	CreatedAt – creation timestamp.
type Genre struct {
	ID        uint64    // genres.id
	Name      string    // genres.name
	ParentID  *uint64   // genres.parent_id (nullable)
	CreatedAt time.Time // genres.created_at
}

// ErrGenreCycle is returned when re-parenting a genre would make it its own
// ancestor.
var ErrGenreCycle = errors.New("genre parent would create a cycle")

// CheckGenreParent validates that attaching genre id below parent keeps the
// tree acyclic.  parentOf resolves the current parent of any genre; ok is
// false for genres that do not exist.
func CheckGenreParent(id, parent uint64, parentOf func(uint64) (p *uint64, ok bool)) error {
	seen := map[uint64]bool{}
	for cur := parent; ; {
		if cur == id {
			return ErrGenreCycle
		}
		if seen[cur] {
			// pre-existing loop above us; refuse to attach to it
			return ErrGenreCycle
		}
		seen[cur] = true
		p, ok := parentOf(cur)
		if !ok || p == nil {
			return nil
		}
		cur = *p
	}
}
