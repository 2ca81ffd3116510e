// Package source abstracts where new application versions come from.
package source

import "context"

// Descriptor identifies a fetchable version. ID is opaque; it is compared to
// the adopted version only for equality, never ordered.
type Descriptor struct {
	ID      string `json:"id"`
	Release int64  `json:"release,omitempty"` // release id when published as a release
	Commit  string `json:"commit,omitempty"`  // full SHA when tracking a branch head
}

// Source is the remote release source consumed by the update controller.
type Source interface {
	// Latest returns the newest available descriptor, or nil when the
	// source has nothing published.
	Latest(ctx context.Context) (*Descriptor, error)
	// Fetch downloads the files of desc into destDir and returns their
	// paths relative to destDir.
	Fetch(ctx context.Context, desc *Descriptor, destDir string) ([]string, error)
}
