// Package projectsync implements C2 from spec.md §4.2: mirroring a
// project's blobs from the object store onto the worker's local
// filesystem before each execution, and resolving per-project secrets into
// an environment-variable mapping the reasoning graph is invoked with.
//
// Grounded on the teacher's internal/artifacts S3/local store pair,
// generalized from "fetch one artifact by ID" to "list and materialize
// everything under a project prefix" — the shape original_source's
// inference-worker/main_managed.py's sync_project_data_from_s3 uses
// (paginate ListObjectsV2 under `artifacts/{project_id}/`, download each
// to `{local_base}/{project_id}/{relative}`, skip directory markers,
// tolerate per-object failures).
package projectsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chicoryai/taskrunner/internal/objectstore"
	"github.com/chicoryai/taskrunner/internal/observability"
)

// DefaultMaxFiles and DefaultMaxTotalBytes implement spec.md §4.2's bounds:
// 10,000 files per sync, 10 GiB total.
const (
	DefaultMaxFiles      = 10_000
	DefaultMaxTotalBytes = 10 * 1024 * 1024 * 1024
)

// Result summarizes one sync call.
type Result struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Succeeded reports spec.md §4.2's success predicate: at least one object
// synced. An empty prefix or a prefix that is all failures is not success.
func (r Result) Succeeded() bool {
	return r.Downloaded > 0
}

// Syncer mirrors project blobs from an object store onto local disk.
type Syncer struct {
	Store         objectstore.Store
	LocalBase     string
	MaxFiles      int
	MaxTotalBytes int64
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// NewSyncer constructs a Syncer with spec-default bounds.
func NewSyncer(store objectstore.Store, localBase string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		Store:         store,
		LocalBase:     localBase,
		MaxFiles:      DefaultMaxFiles,
		MaxTotalBytes: DefaultMaxTotalBytes,
		Logger:        logger,
	}
}

// Sync lists everything under "{projectID}/" and materializes it at
// "{LocalBase}/{projectID}/{relative}". Sync is additive only: objects
// removed from the store are never deleted locally (spec.md §4.2, and see
// SPEC_FULL.md's discussion of why that's intentional, not an oversight).
func (s *Syncer) Sync(ctx context.Context, projectID string) (Result, error) {
	prefix := projectID + "/"
	objects, err := s.Store.List(ctx, prefix)
	if err != nil {
		return Result{}, fmt.Errorf("list project objects: %w", err)
	}

	var result Result
	var totalBytes int64

	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, "/") {
			result.Skipped++
			continue
		}
		if result.Downloaded >= s.MaxFiles {
			s.Logger.Warn("project sync hit file count bound, remaining objects skipped",
				"project_id", projectID, "max_files", s.MaxFiles, "total_objects", len(objects))
			break
		}
		if totalBytes+obj.Size > s.MaxTotalBytes {
			s.Logger.Warn("project sync hit total-bytes bound, remaining objects skipped",
				"project_id", projectID, "max_total_bytes", s.MaxTotalBytes)
			break
		}

		relative := strings.TrimPrefix(obj.Key, prefix)
		if relative == "" {
			result.Skipped++
			continue
		}

		if err := s.materialize(ctx, projectID, obj.Key, relative); err != nil {
			s.Logger.Warn("failed to download object during project sync",
				"project_id", projectID, "key", obj.Key, "error", err)
			result.Failed++
			continue
		}
		result.Downloaded++
		totalBytes += obj.Size
	}

	if !result.Succeeded() {
		s.Logger.Warn("project sync downloaded zero objects", "project_id", projectID,
			"skipped", result.Skipped, "failed", result.Failed)
	}
	if s.Metrics != nil {
		s.Metrics.RecordProjectSync(totalBytes, result.Downloaded, result.Skipped, result.Failed)
	}
	return result, nil
}

func (s *Syncer) materialize(ctx context.Context, projectID, key, relative string) error {
	localDest := filepath.Join(s.LocalBase, projectID, filepath.FromSlash(relative))
	if err := os.MkdirAll(filepath.Dir(localDest), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	reader, err := s.Store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	defer reader.Close()

	tmpPath := localDest + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write local file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, localDest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename local file: %w", err)
	}
	return nil
}
