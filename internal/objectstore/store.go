// Package objectstore implements C2's backing store: a flat, prefix-keyed
// blob store that project-artifact sync (internal/projectsync) lists and
// materializes to local disk.
//
// Unlike an artifact store that keys blobs by a generated ID and
// partitions local storage by type/year/month/day, this store keys blobs
// by caller-supplied path ("{project_id}/relative path"), which is what a
// directory-sync scan needs, and adds List so the syncer can enumerate
// everything under a project's prefix without a separate index.
package objectstore

import (
	"context"
	"io"
)

// PutOptions carries optional blob metadata for a Put call.
type PutOptions struct {
	MimeType string
	Metadata map[string]string
}

// ObjectInfo describes one entry returned by List.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store is the object-store contract C2 depends on.
type Store interface {
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// List enumerates objects whose key starts with prefix. Implementations
	// must not return more than the store's configured page size per call;
	// projectsync.Syncer is responsible for the spec's 10,000-object bound.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// DeletePrefix removes every object under prefix, used for the
	// project-deletion cascade (spec.md §3 "Ownership").
	DeletePrefix(ctx context.Context, prefix string) error

	Close() error
}
