// Package filestore defines the provider-neutral contracts for the remote
// bucket that backs the catalog.
//
// Two providers implement them: the native B2 API (package b2) and any
// S3-compatible endpoint (package minio). Callers depend only on this
// package — never on a specific provider package.
//
// Usage:
//
//	store, err := b2.New(cfg, log)
//	if err != nil { ... }
//	defer store.Close()
//
//	page, err := store.ListPage(ctx, filestore.ListOptions{PageSize: 1000})
package filestore

import (
	"context"
)

// Lister enumerates the bucket one page at a time.
type Lister interface {
	// ListPage returns one page of objects. opts.Cursor must be the
	// NextCursor of the previous page, passed verbatim, or "" to start.
	// An empty Page.NextCursor is the authoritative end-of-listing signal.
	ListPage(ctx context.Context, opts ListOptions) (*Page, error)
}

// Downloader retrieves object bytes by provider-assigned object id.
type Downloader interface {
	// Download opens the object identified by objectID. rangeHeader is an
	// HTTP Range value forwarded to the provider, "" for the whole object.
	// The caller MUST call Object.Close() after reading.
	Download(ctx context.Context, objectID, rangeHeader string) (Object, error)
}

// Store is the full surface a provider driver offers.
type Store interface {
	Lister
	Downloader

	// Ping verifies the provider is reachable and the credentials are accepted.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error
}
