// Package minio provides an S3-compatible implementation of filestore.Store,
// used to reach the bucket through the provider's S3 endpoint
// (e.g. s3.us-west-004.backblazeb2.com) instead of the native API.
//
// Usage:
//
//	cfg := filestore.DefaultConfig(key, "", "pistas")
//	cfg.Provider = filestore.ProviderS3
//	cfg.Endpoint = "s3.us-west-004.backblazeb2.com"
//	store, err := minio.New(cfg, log)
//	if err != nil { ... }
//	defer store.Close()
package minio

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/logger"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Driver is a MinIO-SDK implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	cfg    filestore.Config
	log    *logger.Logger

	// cfgErr is a credential problem reported by every call instead of by
	// New, so a missing key only fails the operations that need it.
	cfgErr error
}

var _ filestore.Store = (*Driver)(nil)

// New builds a Driver for cfg without contacting the endpoint.
func New(cfg *filestore.Config, log *logger.Logger) (*Driver, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindConfig, "minio: nil config")
	}
	c := cfg.WithDefaults()
	if log == nil {
		log = logger.Nop()
	}
	d := &Driver{cfg: c, log: log.Component("s3")}

	if c.Endpoint == "" {
		d.cfgErr = errs.New(errs.ErrKindConfig, "minio: endpoint is not configured")
		return d, nil
	}
	if c.BucketName == "" {
		d.cfgErr = errs.New(errs.ErrKindConfig, "minio: bucket name is not configured")
		return d, nil
	}

	keyID, secret, err := filestore.SplitCredential(c.Credential)
	if err != nil {
		d.cfgErr = err
		return d, nil
	}

	client, err := miniogo.New(endpointHost(c.Endpoint), &miniogo.Options{
		Creds:  credentials.NewStaticV4(keyID, secret, ""),
		Secure: c.UseSSL,
		Region: c.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "failed to create minio client", err)
	}
	d.client = client
	return d, nil
}

// --- filestore.Store implementation ---

// Ping verifies the endpoint is reachable and the bucket exists.
func (d *Driver) Ping(ctx context.Context) error {
	if d.cfgErr != nil {
		return d.cfgErr
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	ok, err := d.client.BucketExists(ctx, d.cfg.BucketName)
	if err != nil {
		return mapError(err, "ping failed")
	}
	if !ok {
		return errs.New(errs.ErrKindNotFound, "bucket "+d.cfg.BucketName+" does not exist")
	}
	return nil
}

// Close is a no-op for MinIO — the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// ListPage returns up to opts.PageSize objects after opts.Cursor. The cursor
// is the last key of the previous page, fed to the SDK as StartAfter.
func (d *Driver) ListPage(ctx context.Context, opts filestore.ListOptions) (*filestore.Page, error) {
	if d.cfgErr != nil {
		return nil, d.cfgErr
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = d.cfg.PageSize
	}

	// Cancelling stops the SDK's listing goroutine once the page is full.
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	// WithMetadata asks for user metadata inline (a MinIO extension);
	// servers that ignore it leave UserMetadata empty.
	listOpts := miniogo.ListObjectsOptions{
		Prefix:       opts.Prefix,
		Recursive:    true,
		StartAfter:   opts.Cursor,
		MaxKeys:      pageSize,
		WithMetadata: true,
	}

	page := &filestore.Page{Objects: make([]filestore.ObjectInfo, 0, pageSize)}
	for obj := range d.client.ListObjects(ctx, d.cfg.BucketName, listOpts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}

		page.Objects = append(page.Objects, filestore.ObjectInfo{
			Key:          obj.Key,
			ID:           obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
			Metadata:     lowerKeys(obj.UserMetadata),
		})

		if len(page.Objects) == pageSize {
			page.NextCursor = obj.Key
			break
		}
	}

	d.log.DebugWith("listed page", map[string]interface{}{
		"objects":     len(page.Objects),
		"cursor":      opts.Cursor,
		"next_cursor": page.NextCursor,
	})
	return page, nil
}

// Download opens the object whose key is objectID, honouring rangeHeader.
// The caller MUST call Object.Close() after reading.
func (d *Driver) Download(ctx context.Context, objectID, rangeHeader string) (filestore.Object, error) {
	if d.cfgErr != nil {
		return nil, d.cfgErr
	}
	if objectID == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "minio: empty object key")
	}

	statCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	stat, err := d.client.StatObject(statCtx, d.cfg.BucketName, objectID, miniogo.StatObjectOptions{})
	cancel()
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	var getOpts miniogo.GetObjectOptions
	br, partial, err := parseRange(rangeHeader, stat.Size)
	if err != nil {
		return nil, err
	}
	if partial {
		if err := getOpts.SetRange(br.start, br.end); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid range", err)
		}
	}

	obj, err := d.client.GetObject(ctx, d.cfg.BucketName, objectID, getOpts)
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	info := &filestore.ObjectInfo{
		Key:          stat.Key,
		ID:           stat.Key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		LastModified: stat.LastModified,
	}
	o := &object{ReadCloser: obj, info: info}
	if partial {
		info.Size = br.end - br.start + 1
		o.partial = true
		o.contentRange = fmt.Sprintf("bytes %d-%d/%d", br.start, br.end, stat.Size)
	}
	return o, nil
}

// --- internal types ---

// object wraps a MinIO GetObject response and exposes filestore.Object.
type object struct {
	io.ReadCloser
	info         *filestore.ObjectInfo
	contentRange string
	partial      bool
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}

func (o *object) ContentRange() string { return o.contentRange }

func (o *object) Partial() bool { return o.partial }

type byteRange struct {
	start, end int64
}

// parseRange resolves a single "bytes=" range against size. It reports
// partial=false for an empty header, and for ranges covering the whole object.
func parseRange(header string, size int64) (byteRange, bool, error) {
	if header == "" || size <= 0 {
		return byteRange{}, false, nil
	}
	rng, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(rng, ",") {
		return byteRange{}, false, errs.New(errs.ErrKindInvalidInput, "unsupported range "+header)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return byteRange{}, false, errs.New(errs.ErrKindInvalidInput, "malformed range "+header)
	}

	var r byteRange
	switch {
	case first == "":
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, false, errs.New(errs.ErrKindInvalidInput, "malformed range "+header)
		}
		if n > size {
			n = size
		}
		r = byteRange{start: size - n, end: size - 1}
	default:
		start, err := strconv.ParseInt(first, 10, 64)
		if err != nil || start < 0 || start >= size {
			return byteRange{}, false, errs.New(errs.ErrKindInvalidInput, "unsatisfiable range "+header)
		}
		end := size - 1
		if last != "" {
			end, err = strconv.ParseInt(last, 10, 64)
			if err != nil || end < start {
				return byteRange{}, false, errs.New(errs.ErrKindInvalidInput, "malformed range "+header)
			}
			if end > size-1 {
				end = size - 1
			}
		}
		r = byteRange{start: start, end: end}
	}

	if r.start == 0 && r.end == size-1 {
		return r, false, nil
	}
	return r, true, nil
}

func lowerKeys(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")] = v
	}
	return out
}

// endpointHost strips a scheme, which the SDK does not accept.
func endpointHost(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimRight(endpoint, "/")
}
