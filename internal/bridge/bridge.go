// Package bridge provides the client for the remote object store that
// holds encrypted file content, plus classification of its failure modes.
package bridge

import (
	"context"
	"time"
)

// Credentials authenticate one user against the bridge. Every operation
// is credential-keyed; the provider's rate limit is enforced per credential.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	ID       string    `json:"id"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ProgressFunc receives cumulative byte counts while an object downloads.
type ProgressFunc func(bytes int64)

// Client is the narrow contract this server has with the bridge.
type Client interface {
	// Fetch downloads one object into destPath, reporting progress.
	Fetch(ctx context.Context, bucket, objectID, destPath string, creds Credentials, onProgress ProgressFunc) error

	// Delete removes one object from a bucket.
	Delete(ctx context.Context, bucket, objectID string, creds Credentials) error

	// List enumerates the objects in a bucket.
	List(ctx context.Context, bucket string, creds Credentials) ([]ObjectInfo, error)
}
