// Package artifacts stores binary build products of a run: permit thumbnails
// and staged report assets. The local filesystem backend serves the cron
// deployment; GCS serves installs that want report assets off-box; the memory
// backend exists for tests.
package artifacts

import "context"

// Store reads and writes artifacts by key. Keys are slash-separated relative
// paths such as "thumbs/2024-LOG-0123456.jpg".
type Store interface {
	// Put writes data under key and returns a backend-specific location,
	// overwriting any previous object.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the object's bytes. A missing key is an error.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether the key holds an object.
	Exists(ctx context.Context, key string) (bool, error)
}
