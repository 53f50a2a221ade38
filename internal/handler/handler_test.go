package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leca/yodel-image/internal/config"
	"github.com/leca/yodel-image/internal/database"
	"github.com/leca/yodel-image/internal/router"
	"github.com/leca/yodel-image/internal/storage"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

// upstream fakes both the generation API (under /api) and the WordPress
// REST API (under /wp).
type upstream struct {
	generateCalls atomic.Int32
	// failOn makes the n-th generate call fail; failAll fails every call.
	failOn  atomic.Int32
	failAll atomic.Bool
	wpFail  atomic.Bool

	predictionStatus atomic.Value

	mu        sync.Mutex
	saved     []string
	savedMeta []map[string]string
	updated   map[string]string
}

func (u *upstream) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/image/generate", func(w http.ResponseWriter, r *http.Request) {
		n := u.generateCalls.Add(1)
		if u.failAll.Load() || n == u.failOn.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"model overloaded"}`))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(t, 8, 8))
	})
	mux.HandleFunc("POST /api/image/upscale", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(t, 16, 16))
	})
	mux.HandleFunc("GET /api/account", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"email":"owner@example.com","credits":42,"customerId":"cus_9"}`))
	})
	mux.HandleFunc("POST /api/image/metadata", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"alt_text":"A red balloon","caption":"<p>Up it goes</p>","title":"Balloon","description":"A balloon."}`))
	})
	mux.HandleFunc("POST /api/image/metadata/predictions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
	})
	mux.HandleFunc("GET /api/image/metadata/predictions/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"id":"pred-1","status":%q,"output":{"alt_text":"Async alt"}}`, u.predictionStatus.Load())
	})

	mux.HandleFunc("POST /wp/media", func(w http.ResponseWriter, r *http.Request) {
		if u.wpFail.Load() {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"code":"rest_cannot_create","message":"Sorry, you are not allowed to upload files."}`))
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		meta := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			meta[k] = v[0]
		}
		u.mu.Lock()
		u.saved = append(u.saved, header.Filename)
		u.savedMeta = append(u.savedMeta, meta)
		u.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":101}`))
	})
	mux.HandleFunc("GET /wp/media/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "101" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"rest_post_invalid_id","message":"Invalid post ID."}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":101,"source_url":"https://example.com/balloon.png","mime_type":"image/png"}`))
	})
	mux.HandleFunc("POST /wp/media/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields := map[string]string{}
		for k, v := range r.PostForm {
			fields[k] = v[0]
		}
		u.mu.Lock()
		u.updated = fields
		u.mu.Unlock()
		_, _ = w.Write([]byte(`{"id":101}`))
	})
	return mux
}

func (u *upstream) savedUploads() ([]string, []map[string]string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.saved...), append([]map[string]string(nil), u.savedMeta...)
}

func (u *upstream) updatedFields() map[string]string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.updated
}

// testServer creates a test HTTP server backed by in-memory SQLite, a
// temporary filesystem storage directory and a fake upstream.
func testServer(t *testing.T) (*httptest.Server, *upstream) {
	t.Helper()

	up := &upstream{}
	up.predictionStatus.Store("succeeded")
	upTS := httptest.NewServer(up.handler(t))
	t.Cleanup(upTS.Close)

	db, err := database.NewSQLiteDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewFileSystem(t.TempDir())

	cfg := &config.Config{
		AuthToken:      testToken,
		MaxUploadSize:  10 << 20,
		APIURL:         upTS.URL + "/api",
		APIKey:         "key",
		RestURL:        upTS.URL + "/wp",
		MetadataLang:   "en",
		HTTPTimeout:    5 * time.Second,
		PollInterval:   time.Millisecond,
		PollMaxRetries: 3,
		MaxConcurrency: 4,
	}

	srv := router.New(db, store, cfg)
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return ts, up
}

// authReq creates an *http.Request with the test bearer token.
func authReq(method, url string, body io.Reader) *http.Request {
	req, _ := http.NewRequest(method, url, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := authReq(method, url, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// multipartFileBody builds a multipart request body with a file field.
func multipartFileBody(t *testing.T, fieldName, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

// decodeResponse decodes the JSON body into the provided target.
func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), string(data))
}

// envelope is the response envelope for assertions.
type envelope struct {
	Success  bool              `json:"success"`
	Errors   []json.RawMessage `json:"errors"`
	Result   json.RawMessage   `json:"result"`
	Messages []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"messages"`
}

// paginatedEnvelope adds result_info.
type paginatedEnvelope struct {
	envelope
	ResultInfo struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		Count      int `json:"count"`
		TotalCount int `json:"total_count"`
		TotalPages int `json:"total_pages"`
	} `json:"result_info"`
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x * 20), G: uint8(y * 20), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) image.Point {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return image.Pt(cfg.Width, cfg.Height)
}
