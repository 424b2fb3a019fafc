package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pistas/internal/catalog"
	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/search"
)

type fakeCatalog struct {
	snap        *catalog.Snapshot
	err         error
	invalidated atomic.Int32
}

func (c *fakeCatalog) Snapshot(context.Context) (*catalog.Snapshot, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.snap, nil
}

func (c *fakeCatalog) Peek() *catalog.Snapshot { return c.snap }

func (c *fakeCatalog) Invalidate() { c.invalidated.Add(1) }

type fakeStore struct {
	objects map[string][]byte // by id
	listed  []filestore.ObjectInfo
	pingErr error
	ranges  []string
}

func (s *fakeStore) ListPage(_ context.Context, opts filestore.ListOptions) (*filestore.Page, error) {
	page := &filestore.Page{}
	for _, o := range s.listed {
		if strings.HasPrefix(o.Key, opts.Prefix) {
			page.Objects = append(page.Objects, o)
		}
	}
	return page, nil
}

func (s *fakeStore) Download(_ context.Context, id, rangeHeader string) (filestore.Object, error) {
	s.ranges = append(s.ranges, rangeHeader)
	data, ok := s.objects[id]
	if !ok {
		return nil, errs.WrapStatus(errs.ErrKindNotFound, http.StatusNotFound, "no such file", nil)
	}
	obj := &memObject{ReadCloser: io.NopCloser(strings.NewReader(string(data))), info: &filestore.ObjectInfo{ID: id, Size: int64(len(data))}}
	if rangeHeader == "bytes=0-3" {
		obj.ReadCloser = io.NopCloser(strings.NewReader(string(data[:4])))
		obj.info.Size = 4
		obj.partial = true
		obj.contentRange = fmt.Sprintf("bytes 0-3/%d", len(data))
	}
	return obj, nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) Close() error { return nil }

type memObject struct {
	io.ReadCloser
	info         *filestore.ObjectInfo
	partial      bool
	contentRange string
}

func (o *memObject) Info() *filestore.ObjectInfo { return o.info }
func (o *memObject) ContentRange() string        { return o.contentRange }
func (o *memObject) Partial() bool               { return o.partial }

func testEntries(n int) []catalog.Entry {
	out := make([]catalog.Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, catalog.FromObject(filestore.ObjectInfo{
			Key:          fmt.Sprintf("Artista %02d - Tema %02d.mp3", i, i),
			ID:           fmt.Sprintf("id-%02d", i),
			Size:         int64(100 + i),
			LastModified: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		}))
	}
	return out
}

func newTestServer(t *testing.T, cat *fakeCatalog, store *fakeStore) *httptest.Server {
	t.Helper()
	srv := New(Deps{
		Catalog:    cat,
		Searcher:   search.NewEngine(cat, search.Options{}, nil),
		Store:      store,
		Provider:   filestore.ProviderB2,
		BucketName: "pistas",
		PublicURL:  "https://pistas.example.com/",
	}, Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, u string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestBanner(t *testing.T) {
	ts := newTestServer(t, &fakeCatalog{}, &fakeStore{})

	var body map[string]string
	status := getJSON(t, ts.URL+"/api", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeCatalog{}, &fakeStore{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestBucketInfo_Pagination(t *testing.T) {
	cat := &fakeCatalog{snap: catalog.NewSnapshot(testEntries(45), time.Now())}
	ts := newTestServer(t, cat, &fakeStore{})

	var first bucketInfoResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/bucket-info", &first))
	assert.Equal(t, "pistas", first.BucketName)
	assert.Equal(t, 45, first.TotalFiles)
	require.Len(t, first.FilesList, 20)
	assert.Equal(t, "Artista 00 - Tema 00.mp3", first.FilesList[0].Key)
	assert.Equal(t, "Tema 00", first.FilesList[0].Title)
	assert.Equal(t, "id-00", first.FilesList[0].FileID)
	assert.Equal(t, "2024-05-01T00:00:00Z", first.FilesList[0].LastModified)
	assert.Equal(t, "Artista 19 - Tema 19.mp3", first.NextToken)

	var last bucketInfoResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/bucket-info?page=3&pageSize=20", &last))
	require.Len(t, last.FilesList, 5)
	assert.Empty(t, last.NextToken)

	var beyond map[string]interface{}
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/bucket-info?page=4", &beyond))
	assert.EqualValues(t, 45, beyond["availableFiles"])

	var capped bucketInfoResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/bucket-info?pageSize=5000&page=abc", &capped))
	assert.Len(t, capped.FilesList, 45)
}

func TestBucketInfo_HugePageIsNotFound(t *testing.T) {
	cat := &fakeCatalog{snap: catalog.NewSnapshot(testEntries(2), time.Now())}
	ts := newTestServer(t, cat, &fakeStore{})

	for _, q := range []string{
		"page=9223372036854775807",
		"page=9223372036854775807&pageSize=1000",
		"page=4611686018427387905&pageSize=2",
	} {
		var body map[string]interface{}
		assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/bucket-info?"+q, &body), q)
		assert.EqualValues(t, 2, body["availableFiles"], q)
	}
}

func TestBucketInfo_CatalogUnavailable(t *testing.T) {
	cat := &fakeCatalog{err: errs.New(errs.ErrKindCatalogUnavailable, "no snapshot")}
	ts := newTestServer(t, cat, &fakeStore{})

	var body errorBody
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/bucket-info", &body))
	assert.Contains(t, body.Error, "no snapshot")
}

func TestSearch(t *testing.T) {
	entries := append(testEntries(3), catalog.FromObject(filestore.ObjectInfo{Key: "Los Shapis - El Aguajal.mp3", ID: "shapis"}))
	cat := &fakeCatalog{snap: catalog.NewSnapshot(entries, time.Now())}
	ts := newTestServer(t, cat, &fakeStore{})

	var ok searchResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/search?q="+url.QueryEscape("el aguajal"), &ok))
	assert.True(t, ok.Success)
	require.Equal(t, 1, ok.Count)
	assert.Equal(t, "Los Shapis - El Aguajal.mp3", ok.Results[0].FileName)
	assert.Equal(t, "Los Shapis", ok.Results[0].Artist)
	require.NotNil(t, ok.Results[0].Score)

	var bad searchResponse
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/search?q=x", &bad))
	assert.False(t, bad.Success)
	assert.NotNil(t, bad.Results)
	assert.NotEmpty(t, bad.Error)
}

func TestAudioURL(t *testing.T) {
	cat := &fakeCatalog{snap: catalog.NewSnapshot(testEntries(2), time.Now())}
	store := &fakeStore{listed: []filestore.ObjectInfo{
		{Key: "Nuevo - Tema.mp3", ID: "late-id"},
		{Key: "Nuevo - Tema.mp3.bak", ID: "bak-id"},
	}}
	ts := newTestServer(t, cat, store)

	var body map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/audio/url?key="+url.QueryEscape("Artista 01 - Tema 01.mp3"), &body))
	assert.Equal(t,
		"https://pistas.example.com/api/audio/stream?fileId=id-01&fileName=Artista+01+-+Tema+01.mp3",
		body["url"])

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/audio/url?key="+url.QueryEscape("Nuevo - Tema.mp3"), &body))
	assert.Contains(t, body["url"], "fileId=late-id")

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/audio/url?key=missing.mp3", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/audio/url", nil))
}

func TestAudioStream(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"id-1": []byte("ID3-audio-bytes")}}
	ts := newTestServer(t, &fakeCatalog{}, store)

	resp, err := http.Get(ts.URL + "/api/audio/stream?fileId=id-1&fileName=a.mp3")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ID3-audio-bytes", string(body))
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/audio/stream?fileId=id-1&fileName=a.mp3", nil)
	req.Header.Set("Range", "bytes=0-3")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "ID3-", string(body))
	assert.Equal(t, "bytes 0-3/15", resp.Header.Get("Content-Range"))
	assert.Equal(t, "4", resp.Header.Get("Content-Length"))
	assert.Equal(t, []string{"", "bytes=0-3"}, store.ranges)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/audio/stream?fileId=nope&fileName=a.mp3", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/audio/stream?fileId=id-1", nil))
}

func TestProviderStatus(t *testing.T) {
	store := &fakeStore{}
	ts := newTestServer(t, &fakeCatalog{}, store)

	var body map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/b2-status", &body))
	assert.Equal(t, "ok", body["status"])

	store.pingErr = errs.New(errs.ErrKindAuth, "authorization rejected")
	assert.Equal(t, http.StatusBadGateway, getJSON(t, ts.URL+"/api/b2-status", nil))

	store.pingErr = errs.New(errs.ErrKindConfig, "empty credential")
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, ts.URL+"/api/b2-status", nil))
}

func TestCatalogStatusAndRefresh(t *testing.T) {
	cat := &fakeCatalog{}
	ts := newTestServer(t, cat, &fakeStore{})

	var status catalogStatus
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/catalog", &status))
	assert.False(t, status.Loaded)

	cat.snap = catalog.NewSnapshot(testEntries(3), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	resp, err := http.Post(ts.URL+"/api/catalog/refresh", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, cat.invalidated.Load())
	assert.Equal(t, catalogStatus{Loaded: true, Entries: 3, CapturedAt: "2024-05-01T12:00:00Z"}, status)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, &fakeCatalog{}, &fakeStore{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/audio/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Range")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind errs.ErrKind
		want int
	}{
		{errs.ErrKindInvalidQuery, http.StatusBadRequest},
		{errs.ErrKindInvalidInput, http.StatusBadRequest},
		{errs.ErrKindNotFound, http.StatusNotFound},
		{errs.ErrKindAuth, http.StatusBadGateway},
		{errs.ErrKindRemoteUnavailable, http.StatusServiceUnavailable},
		{errs.ErrKindCatalogUnavailable, http.StatusServiceUnavailable},
		{errs.ErrKindTimeout, http.StatusGatewayTimeout},
		{errs.ErrKindConfig, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(errs.New(tt.kind, "x")))
		})
	}
}
