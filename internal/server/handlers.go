package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/koustreak/pistas/internal/catalog"
	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/logger"
	"github.com/koustreak/pistas/internal/search"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 1000
	searchResultLimit = 100
	lookupPageSize    = 10
	defaultAudioType  = "audio/mpeg"
)

// fileJSON is how a catalog entry is presented to clients.
type fileJSON struct {
	Name         string   `json:"name"`
	FileName     string   `json:"fileName"`
	Key          string   `json:"key"`
	FileID       string   `json:"fileId"`
	Size         int64    `json:"size"`
	LastModified string   `json:"lastModified,omitempty"`
	Title        string   `json:"title"`
	Artist       string   `json:"artist"`
	ContentType  string   `json:"contentType,omitempty"`
	Score        *float64 `json:"score,omitempty"`
}

func toFileJSON(e catalog.Entry) fileJSON {
	f := fileJSON{
		Name:        e.Key,
		FileName:    e.Key,
		Key:         e.Key,
		FileID:      e.ObjectID,
		Size:        e.Size,
		Title:       e.Title,
		Artist:      e.Artist,
		ContentType: e.ContentType,
	}
	if !e.LastModified.IsZero() {
		f.LastModified = e.LastModified.UTC().Format(time.RFC3339)
	}
	return f
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.inShutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "pistas music catalog API",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type bucketInfoResponse struct {
	BucketName string     `json:"bucketName"`
	TotalFiles int        `json:"totalFiles"`
	FilesList  []fileJSON `json:"filesList"`
	NextToken  string     `json:"nextToken,omitempty"`
}

// handleBucketInfo serves page-number pagination over the snapshot.
func (s *Server) handleBucketInfo(w http.ResponseWriter, r *http.Request) {
	page := intParam(r, "page", 1)
	pageSize := intParam(r, "pageSize", defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	snap, err := s.deps.Catalog.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	total := snap.Len()
	// Compare page counts before multiplying so a huge page cannot overflow.
	pages := (total + pageSize - 1) / pageSize
	if page > 1 && page-1 >= pages {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":          "page " + strconv.Itoa(page) + " is beyond the end of the catalog",
			"availableFiles": total,
		})
		return
	}

	offset := (page - 1) * pageSize
	end := offset + pageSize
	if end > total {
		end = total
	}
	resp := bucketInfoResponse{
		BucketName: s.deps.BucketName,
		TotalFiles: total,
		FilesList:  make([]fileJSON, 0, end-offset),
	}
	for _, e := range snap.Entries[offset:end] {
		resp.FilesList = append(resp.FilesList, toFileJSON(e))
	}
	if end < total {
		resp.NextToken = snap.Entries[end-1].Key
	}
	writeJSON(w, http.StatusOK, resp)
}

type searchResponse struct {
	Success bool       `json:"success"`
	Results []fileJSON `json:"results"`
	Query   string     `json:"query"`
	Count   int        `json:"count"`
	Error   string     `json:"error,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	results, err := s.deps.Searcher.Search(r.Context(), q, searchResultLimit)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).ErrorWith("search failed", err, map[string]interface{}{"query": q})
		}
		writeJSON(w, status, searchResponse{Success: false, Results: []fileJSON{}, Query: q, Error: err.Error()})
		return
	}

	resp := searchResponse{Success: true, Query: q, Count: len(results), Results: make([]fileJSON, 0, len(results))}
	for _, res := range results {
		f := toFileJSON(res.Entry)
		score := res.Score
		f.Score = &score
		resp.Results = append(resp.Results, f)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAudioURL returns the proxy stream URL for a key.
func (s *Server) handleAudioURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, r, errs.New(errs.ErrKindInvalidInput, "key parameter is required"))
		return
	}

	id, err := s.objectID(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	u := s.deps.PublicURL + "/api/audio/stream?fileId=" + url.QueryEscape(id) + "&fileName=" + url.QueryEscape(key)
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

// objectID resolves key through the snapshot, then through a prefix listing
// for objects uploaded after the last crawl.
func (s *Server) objectID(ctx context.Context, key string) (string, error) {
	snap, err := s.deps.Catalog.Snapshot(ctx)
	if err == nil {
		if e, ok := snap.Lookup(key); ok {
			return e.ObjectID, nil
		}
	}

	page, listErr := s.deps.Store.ListPage(ctx, filestore.ListOptions{Prefix: key, PageSize: lookupPageSize})
	if listErr != nil {
		if err != nil {
			return "", err
		}
		return "", listErr
	}
	for _, obj := range page.Objects {
		if obj.Key == key {
			return obj.ID, nil
		}
	}
	return "", errs.New(errs.ErrKindNotFound, "file not found: "+key)
}

// handleAudioStream relays object bytes, forwarding the client's Range.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileId")
	fileName := r.URL.Query().Get("fileName")
	if fileID == "" || fileName == "" {
		writeError(w, r, errs.New(errs.ErrKindInvalidInput, "fileId and fileName are required"))
		return
	}

	obj, err := s.deps.Store.Download(r.Context(), fileID, r.Header.Get("Range"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer obj.Close()

	info := obj.Info()
	contentType := info.ContentType
	if contentType == "" {
		contentType = defaultAudioType
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	if info.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	status := http.StatusOK
	if obj.Partial() {
		status = http.StatusPartialContent
		if cr := obj.ContentRange(); cr != "" {
			h.Set("Content-Range", cr)
		}
	}
	w.WriteHeader(status)

	n, err := io.Copy(w, obj)
	if err != nil {
		log := logger.FromContext(r.Context())
		fields := map[string]interface{}{"file_name": fileName, "bytes": n}
		if clientGone(r, err) {
			log.DebugWith("client closed stream", fields)
		} else {
			log.WarnWith("stream interrupted", err, fields)
		}
	}
}

func clientGone(r *http.Request, err error) bool {
	return r.Context().Err() != nil ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "connected to " + string(s.deps.Provider) + " bucket " + s.deps.BucketName,
	})
}

type catalogStatus struct {
	Loaded     bool   `json:"loaded"`
	Entries    int    `json:"entries"`
	CapturedAt string `json:"capturedAt,omitempty"`
}

func snapshotStatus(snap *catalog.Snapshot) catalogStatus {
	if snap == nil {
		return catalogStatus{}
	}
	return catalogStatus{
		Loaded:     true,
		Entries:    snap.Len(),
		CapturedAt: snap.CapturedAt.UTC().Format(time.RFC3339),
	}
}

// handleCatalogStatus reports the current snapshot without crawling.
func (s *Server) handleCatalogStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, snapshotStatus(s.deps.Catalog.Peek()))
}

// handleCatalogRefresh forces a crawl and reports the resulting snapshot.
func (s *Server) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	s.deps.Catalog.Invalidate()
	snap, err := s.deps.Catalog.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotStatus(snap))
}

// intParam parses a positive integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

var _ Searcher = (*search.Engine)(nil)
var _ Catalog = (*catalog.Cache)(nil)
