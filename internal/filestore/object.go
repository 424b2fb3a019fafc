package filestore

import (
	"io"
	"time"
)

// ObjectInfo describes a single object stored in the bucket.
type ObjectInfo struct {
	// Key is the full object name within the bucket (e.g. "Los Shapis - El Aguajal.mp3").
	Key string

	// ID is the provider-assigned object id. For S3-compatible providers,
	// which have no separate id, it equals Key.
	ID string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ContentType is the MIME type (e.g. "audio/mpeg").
	ContentType string

	// LastModified is when the object was last written.
	LastModified time.Time

	// Metadata holds user-supplied object metadata (B2 fileInfo, S3 x-amz-meta-*),
	// keyed in lower case.
	Metadata map[string]string
}

// Page is one page of a listing.
type Page struct {
	Objects []ObjectInfo

	// NextCursor continues the listing. Empty means no further page exists;
	// it says nothing about whether Objects is empty.
	NextCursor string
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading.
type Object interface {
	io.ReadCloser

	// Info returns the response metadata for this object.
	Info() *ObjectInfo

	// ContentRange is the Content-Range of a partial response, "" otherwise.
	ContentRange() string

	// Partial reports whether only the requested range was returned.
	Partial() bool
}

// ListOptions controls a single ListPage call.
type ListOptions struct {
	// Prefix restricts results to objects whose key starts with this string.
	// Use "" to list everything in the bucket.
	Prefix string

	// PageSize caps the number of results returned. 0 means use the driver default.
	PageSize int

	// Cursor is the opaque continuation token from the previous page.
	// Pass "" to start from the beginning.
	Cursor string
}
