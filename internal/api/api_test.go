package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/publish"
	"github.com/starford/quill/internal/recordservice"
	"github.com/starford/quill/internal/recordstore"
	"github.com/starford/quill/internal/storage"
	"github.com/starford/quill/internal/sweep"
	"github.com/starford/quill/internal/testutil"
)

type testEnv struct {
	router    http.Handler
	content   string
	imagesDir string
	files     *storage.FS
}

type envOpts struct {
	token    string
	deferred bool
	store    recordstore.Store
	events   http.Handler
}

func newTestEnv(t *testing.T, o envOpts) *testEnv {
	t.Helper()
	store := o.store
	if store == nil {
		store, _ = testutil.TestStore(t)
	}
	content, files := testutil.TestContent(t)
	imagesDir := t.TempDir()
	images, err := storage.NewFS(imagesDir)
	if err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Images:      images,
		ImagesURL:   "/images",
		AuthEnabled: o.token != "",
		Token:       o.token,
		Events:      o.events,
	}
	var writer artifact.Writer
	if o.deferred {
		dw := artifact.NewDeferredWriter(testutil.Logger())
		deps.Pending = dw
		writer = dw
	} else {
		writer = artifact.NewDirectWriter(files, testutil.Layout)
		deps.Sweeper = sweep.New(store, files, testutil.Layout, testutil.Logger())
	}
	deps.Reconciler = publish.New(store, writer, testutil.Logger())
	deps.Service = recordservice.NewService(store, deps.Reconciler, testutil.Logger())

	return &testEnv{router: NewRouter(deps), content: content, imagesDir: imagesDir, files: files}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateAndGetRecord(t *testing.T) {
	e := newTestEnv(t, envOpts{})

	w := e.do(t, http.MethodPost, "/records/note", map[string]any{"title": "Hello", "content": "World"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[models.Record](t, w)
	if created.ID == "" || created.Published {
		t.Fatalf("created = %+v", created)
	}

	w = e.do(t, http.MethodGet, "/records/note/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[models.Record](t, w)
	if got.Title != "Hello" || got.Content != "World" {
		t.Errorf("got = %+v", got)
	}
}

func TestUpdateRecord(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	created := decode[models.Record](t, e.do(t, http.MethodPost, "/records/post", map[string]any{"title": "v1"}))

	w := e.do(t, http.MethodPost, "/records/post", map[string]any{"id": created.ID, "title": "v2"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[models.Record](t, w); got.Title != "v2" {
		t.Errorf("title = %q", got.Title)
	}

	w = e.do(t, http.MethodPost, "/records/post", map[string]any{"id": "missing", "title": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	w := e.do(t, http.MethodGet, "/records/note/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUnknownKind(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	w := e.do(t, http.MethodGet, "/records/page", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestInvalidJSON(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	req := httptest.NewRequest(http.MethodPost, "/records/note", strings.NewReader("{nope"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListRecords(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	e.do(t, http.MethodPost, "/records/note", map[string]any{"title": "Draft"})
	e.do(t, http.MethodPost, "/records/note", map[string]any{"title": "Live", "content": "x", "publish": true})
	e.do(t, http.MethodPost, "/records/post", map[string]any{"title": "Other kind"})

	w := e.do(t, http.MethodGet, "/records/note", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	resp := decode[RecordListResponse](t, w)
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}

	resp = decode[RecordListResponse](t, e.do(t, http.MethodGet, "/records/note?published=true", nil))
	if resp.Total != 1 || resp.Records[0].Title != "Live" {
		t.Errorf("published = %+v", resp)
	}

	if w := e.do(t, http.MethodGet, "/records/note?published=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad filter = %d, want 400", w.Code)
	}
}

func TestListRecords_Empty(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	w := e.do(t, http.MethodGet, "/records/post", nil)
	if !strings.Contains(w.Body.String(), `"records":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDeleteRecord(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	created := decode[models.Record](t, e.do(t, http.MethodPost, "/records/note", map[string]any{"title": "Bye"}))

	if w := e.do(t, http.MethodDelete, "/records/note/"+created.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/records/note/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestPublishAndUnpublish(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	created := decode[models.Record](t, e.do(t, http.MethodPost, "/records/post",
		map[string]any{"title": "Hello World", "content": "Body"}))

	w := e.do(t, http.MethodPost, "/records/post/publish", map[string]string{"id": created.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("publish = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[TransitionResponse](t, w)
	if !resp.Success || resp.Slug != "hello-world" || resp.Deferred {
		t.Errorf("publish resp = %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(e.content, "blog", "hello-world.mdx")); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	w = e.do(t, http.MethodPost, "/records/post/unpublish", map[string]string{"id": created.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("unpublish = %d, body = %s", w.Code, w.Body.String())
	}
	data, _ := os.ReadFile(filepath.Join(e.content, "blog", "hello-world.mdx"))
	if !strings.Contains(string(data), "published: false") {
		t.Errorf("artifact not flipped:\n%s", data)
	}
}

func TestPublish_Errors(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	draft := decode[models.Record](t, e.do(t, http.MethodPost, "/records/note", map[string]any{"title": "No body"}))
	other := decode[models.Record](t, e.do(t, http.MethodPost, "/records/note", map[string]any{"title": "Dup", "content": "a"}))
	dup := decode[models.Record](t, e.do(t, http.MethodPost, "/records/note", map[string]any{"title": "Dup!", "content": "b"}))

	cases := []struct {
		name string
		path string
		body map[string]string
		want int
	}{
		{"missing id", "/records/note/publish", map[string]string{}, http.StatusBadRequest},
		{"unknown record", "/records/note/publish", map[string]string{"id": "nope"}, http.StatusNotFound},
		{"no content", "/records/note/publish", map[string]string{"id": draft.ID}, http.StatusBadRequest},
		{"never published", "/records/note/unpublish", map[string]string{"id": draft.ID}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := e.do(t, http.MethodPost, tc.path, tc.body); w.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}

	t.Run("slug conflict", func(t *testing.T) {
		if w := e.do(t, http.MethodPost, "/records/note/publish", map[string]string{"id": other.ID}); w.Code != http.StatusOK {
			t.Fatalf("first publish = %d", w.Code)
		}
		if w := e.do(t, http.MethodPost, "/records/note/publish", map[string]string{"id": dup.ID}); w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})
}

func TestPublish_Deferred(t *testing.T) {
	e := newTestEnv(t, envOpts{deferred: true})
	created := decode[models.Record](t, e.do(t, http.MethodPost, "/records/note",
		map[string]any{"title": "Later", "content": "x"}))

	resp := decode[TransitionResponse](t, e.do(t, http.MethodPost, "/records/note/publish", map[string]string{"id": created.ID}))
	if !resp.Success || !resp.Deferred {
		t.Errorf("resp = %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(e.content, "notes", "later.mdx")); err == nil {
		t.Error("artifact written although writes are deferred")
	}

	var pending struct {
		Pending []artifact.PendingOp `json:"pending"`
		Total   int                  `json:"total"`
	}
	w := e.do(t, http.MethodGet, "/artifacts/pending", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &pending); err != nil {
		t.Fatal(err)
	}
	if pending.Total != 1 || pending.Pending[0].Slug != "later" {
		t.Errorf("pending = %+v", pending)
	}

	if w := e.do(t, http.MethodPost, "/sweep", nil); w.Code != http.StatusConflict {
		t.Errorf("sweep in deferred mode = %d, want 409", w.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	created := decode[models.Record](t, e.do(t, http.MethodPost, "/records/note",
		map[string]any{"title": "Swept", "content": "x", "publish": true}))
	_ = os.Remove(filepath.Join(e.content, "notes", "swept.mdx"))

	w := e.do(t, http.MethodPost, "/sweep?kind=note", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep = %d, body = %s", w.Code, w.Body.String())
	}
	sum := decode[sweep.Summary](t, w)
	if sum.Created != 1 {
		t.Errorf("summary = %+v (record %s)", sum, created.ID)
	}

	if w := e.do(t, http.MethodPost, "/sweep?kind=page", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad kind = %d, want 400", w.Code)
	}
}

func TestStoreUnavailable(t *testing.T) {
	e := newTestEnv(t, envOpts{store: recordstore.Unconfigured{}})
	w := e.do(t, http.MethodGet, "/records/note", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestCorruptStoredRecordIsInternalError(t *testing.T) {
	store, mr := testutil.TestStore(t)
	// Published without a slug: decodes, but fails the record schema.
	_ = mr.Set("note:bad-1", `{"id":"bad-1","title":"T","content":"c","createdAt":"2026-10-01T12:00:00Z","published":true}`)
	e := newTestEnv(t, envOpts{store: store})

	requests := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/records/note/bad-1", nil},
		{http.MethodPost, "/records/note/publish", TransitionRequest{ID: "bad-1"}},
		{http.MethodPost, "/records/note/unpublish", TransitionRequest{ID: "bad-1"}},
	}
	for _, r := range requests {
		w := e.do(t, r.method, r.path, r.body)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s %s status = %d, want 500", r.method, r.path, w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != `{"error":"internal error"}` {
			t.Errorf("%s %s body = %s", r.method, r.path, got)
		}
	}

	w := e.do(t, http.MethodGet, "/records/note", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", w.Code)
	}
	if list := decode[RecordListResponse](t, w); list.Total != 0 {
		t.Errorf("list total = %d, want the corrupt record skipped", list.Total)
	}
}

// Auth tests.

func TestAuth(t *testing.T) {
	e := newTestEnv(t, envOpts{token: "secret"})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/records/note", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			e.router.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestSSE_AuthProtected(t *testing.T) {
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
	e := newTestEnv(t, envOpts{token: "tok", events: sseHandler})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE without token = %d, want 401", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req = httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

// Image tests.

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func uploadFile(t *testing.T, router http.Handler, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadImage(t *testing.T) {
	e := newTestEnv(t, envOpts{})

	w := uploadFile(t, e.router, "My Cover.PNG", pngHeader)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[ImageUploadResponse](t, w)
	if !strings.HasPrefix(resp.Filename, "my-cover-") || !strings.HasSuffix(resp.Filename, ".png") {
		t.Errorf("filename = %q", resp.Filename)
	}
	if resp.URL != "/images/"+resp.Filename {
		t.Errorf("url = %q", resp.URL)
	}
	data, err := os.ReadFile(filepath.Join(e.imagesDir, resp.Filename))
	if err != nil {
		t.Fatalf("file not on disk: %v", err)
	}
	if !bytes.Equal(data, pngHeader) {
		t.Error("content mismatch")
	}
}

func TestUploadImage_Rejected(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	cases := map[string][]byte{
		"notes.txt":     []byte("plain text"),
		"fake.png":      []byte("not really a png"),
		"../evil.exe":   pngHeader,
		"logo.svg":      []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`),
		"disguised.svg": pngHeader,
	}
	for name, content := range cases {
		if w := uploadFile(t, e.router, name, content); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, w.Code)
		}
	}
}

func TestUploadImage_TraversalStaysInside(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	w := uploadFile(t, e.router, "../../escape.png", pngHeader)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d", w.Code)
	}
	resp := decode[ImageUploadResponse](t, w)
	if strings.Contains(resp.Filename, "/") || strings.Contains(resp.Filename, "..") {
		t.Errorf("filename = %q", resp.Filename)
	}
	if _, err := os.Stat(filepath.Join(e.imagesDir, resp.Filename)); err != nil {
		t.Errorf("file not inside images dir: %v", err)
	}
}

func TestUploadImage_MissingFileField(t *testing.T) {
	e := newTestEnv(t, envOpts{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wrong", "data")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}
}
