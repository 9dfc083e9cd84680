package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/imamik/gpuprep/internal/orchestrator"
	"github.com/imamik/gpuprep/internal/util/retry"
)

// ObjectStore is the subset of Client the archiver needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucketName string) error
	PutObject(ctx context.Context, bucketName, key, contentType string, data []byte) error
}

// Archiver uploads state.json to <bucket>/<prefix>/<hostname>/state.json
// after every invocation.
type Archiver struct {
	store    ObjectStore
	bucket   string
	prefix   string
	hostname string
	retry    []retry.Option

	ensureOnce sync.Once
	ensureErr  error
}

// NewArchiver creates an Archiver. Uploads are retried briefly.
func NewArchiver(store ObjectStore, bucket, prefix, hostname string) *Archiver {
	return &Archiver{
		store:    store,
		bucket:   bucket,
		prefix:   prefix,
		hostname: hostname,
		retry: []retry.Option{
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(time.Second),
			retry.WithMaxDelay(5 * time.Second),
		},
	}
}

// Key returns the object key for this host.
func (a *Archiver) Key() string {
	return path.Join(a.prefix, a.hostname, "state.json")
}

// Report implements orchestrator.Reporter.
func (a *Archiver) Report(ctx context.Context, report *orchestrator.Report) error {
	if report.State == nil {
		return errors.New("no state to archive")
	}
	data, err := json.MarshalIndent(report.State, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	a.ensureOnce.Do(func() {
		a.ensureErr = a.store.EnsureBucket(ctx, a.bucket)
	})
	if a.ensureErr != nil {
		return a.ensureErr
	}

	return retry.WithExponentialBackoff(ctx, func(ctx context.Context) error {
		return a.store.PutObject(ctx, a.bucket, a.Key(), "application/json", data)
	}, a.retry...)
}
