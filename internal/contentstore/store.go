// Package contentstore implements the content-addressed blob store that
// listing content refs point into.
package contentstore

import "context"

// Store accepts opaque byte blobs and returns stable content identifiers.
// Put is idempotent: identical bytes always yield the same ref.
type Store interface {
	Put(ctx context.Context, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Has(ctx context.Context, ref string) (bool, error)
	Close() error
}
