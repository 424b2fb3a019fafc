// Package b2 provides a native Backblaze B2 implementation of filestore.Store.
//
// Usage:
//
//	cfg := filestore.DefaultConfig(os.Getenv("B2_APPLICATION_KEY"), bucketID, "pistas")
//	store, err := b2.New(cfg, log)
//	if err != nil { ... }
//	defer store.Close()
//
//	page, err := store.ListPage(ctx, filestore.ListOptions{PageSize: 1000})
package b2

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/logger"
)

const (
	listFileNamesPath  = "/b2api/v2/b2_list_file_names"
	downloadByIDPath   = "/b2api/v2/b2_download_file_by_id"
	maxFileCountPerReq = 10000
)

// Driver is a B2 implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	cfg      filestore.Config
	client   *http.Client
	sessions *SessionManager
	log      *logger.Logger
}

var _ filestore.Store = (*Driver)(nil)

// New returns a Driver for cfg. It does not contact B2: credentials are
// checked lazily by the first session-dependent call.
func New(cfg *filestore.Config, log *logger.Logger) (*Driver, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindConfig, "b2: nil config")
	}
	c := cfg.WithDefaults()
	if log == nil {
		log = logger.Nop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = c.RequestTimeout
	// No Client.Timeout: downloads stream for as long as the listener plays.
	client := &http.Client{Transport: transport}

	return &Driver{
		cfg:      c,
		client:   client,
		sessions: NewSessionManager(client, c, log),
		log:      log.Component("b2"),
	}, nil
}

// Sessions exposes the session manager.
func (d *Driver) Sessions() *SessionManager {
	return d.sessions
}

// --- filestore.Store implementation ---

// Ping verifies the credentials by ensuring a session.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.sessions.EnsureSession(ctx)
	return err
}

// Close releases idle connections.
func (d *Driver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// listRequest is the b2_list_file_names request body.
type listRequest struct {
	BucketID      string `json:"bucketId"`
	MaxFileCount  int    `json:"maxFileCount"`
	StartFileName string `json:"startFileName,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
}

type listResponse struct {
	Files        []fileInfo `json:"files"`
	NextFileName *string    `json:"nextFileName"`
}

type fileInfo struct {
	FileID          string            `json:"fileId"`
	FileName        string            `json:"fileName"`
	Action          string            `json:"action"`
	ContentLength   int64             `json:"contentLength"`
	ContentType     string            `json:"contentType"`
	UploadTimestamp int64             `json:"uploadTimestamp"`
	FileInfo        map[string]string `json:"fileInfo"`
}

// ListPage returns one page of b2_list_file_names. The cursor is B2's
// nextFileName, passed back verbatim as startFileName.
func (d *Driver) ListPage(ctx context.Context, opts filestore.ListOptions) (*filestore.Page, error) {
	if d.cfg.BucketID == "" {
		return nil, errs.New(errs.ErrKindConfig, "b2: bucket id is not configured")
	}

	body, err := json.Marshal(listRequest{
		BucketID:      d.cfg.BucketID,
		MaxFileCount:  clampPageSize(opts.PageSize, d.cfg.PageSize),
		StartFileName: opts.Cursor,
		Prefix:        opts.Prefix,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "b2: encode list request", err)
	}

	var page *filestore.Page
	err = d.sessions.withSession(ctx, "list_file_names", func(ctx context.Context, s Session) error {
		ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIBaseURL+listFileNamesPath, bytes.NewReader(body))
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "b2: build list request", err)
		}
		req.Header.Set("Authorization", s.BearerToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return mapError(err, "b2: list file names")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return mapStatus(resp, "b2: list file names")
		}

		var lr listResponse
		if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
			return mapError(err, "b2: decode list response")
		}
		page = toPage(lr)
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.DebugWith("listed page", map[string]interface{}{
		"objects":     len(page.Objects),
		"cursor":      opts.Cursor,
		"next_cursor": page.NextCursor,
	})
	return page, nil
}

// Download streams the object with the given B2 file id, forwarding
// rangeHeader when set.
func (d *Driver) Download(ctx context.Context, objectID, rangeHeader string) (filestore.Object, error) {
	if objectID == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "b2: empty file id")
	}

	var obj filestore.Object
	err := d.sessions.withSession(ctx, "download_file_by_id", func(ctx context.Context, s Session) error {
		u := s.DownloadBaseURL + downloadByIDPath + "?fileId=" + url.QueryEscape(objectID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "b2: build download request", err)
		}
		req.Header.Set("Authorization", s.BearerToken)
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return mapError(err, "b2: download file")
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			defer resp.Body.Close()
			return mapStatus(resp, "b2: download file")
		}

		obj = newObject(objectID, resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// --- internal helpers ---

func toPage(lr listResponse) *filestore.Page {
	objects := make([]filestore.ObjectInfo, 0, len(lr.Files))
	for _, f := range lr.Files {
		// "folder" entries only appear with a delimiter; "hide" and "start"
		// are not downloadable objects.
		if f.Action != "" && f.Action != "upload" {
			continue
		}
		objects = append(objects, filestore.ObjectInfo{
			Key:          f.FileName,
			ID:           f.FileID,
			Size:         f.ContentLength,
			ContentType:  f.ContentType,
			LastModified: time.UnixMilli(f.UploadTimestamp).UTC(),
			Metadata:     lowerKeys(f.FileInfo),
		})
	}

	page := &filestore.Page{Objects: objects}
	if lr.NextFileName != nil {
		page.NextCursor = *lr.NextFileName
	}
	return page
}

func lowerKeys(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// clampPageSize applies the driver default and B2's per-request maximum.
func clampPageSize(requested, driverDefault int) int {
	if requested <= 0 {
		requested = driverDefault
	}
	if requested > maxFileCountPerReq {
		return maxFileCountPerReq
	}
	return requested
}

// object wraps a B2 download response and exposes filestore.Object.
type object struct {
	io.ReadCloser
	info         *filestore.ObjectInfo
	contentRange string
	partial      bool
}

func newObject(id string, resp *http.Response) *object {
	name, _ := url.PathUnescape(resp.Header.Get("X-Bz-File-Name"))
	return &object{
		ReadCloser: resp.Body,
		info: &filestore.ObjectInfo{
			Key:         name,
			ID:          id,
			Size:        resp.ContentLength,
			ContentType: resp.Header.Get("Content-Type"),
		},
		contentRange: resp.Header.Get("Content-Range"),
		partial:      resp.StatusCode == http.StatusPartialContent,
	}
}

func (o *object) Info() *filestore.ObjectInfo { return o.info }

func (o *object) ContentRange() string { return o.contentRange }

func (o *object) Partial() bool { return o.partial }
