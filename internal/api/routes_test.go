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

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/logging"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/playback"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/transcribe"
)

// fakeService records the owner and arguments of each call.
type fakeService struct {
	owner    string
	filename string
	body     string
	layout   string
	query    string
	fps      float64
	err      error
	convert  *pipeline.ConversionResult
}

func (f *fakeService) IngestUpload(ctx context.Context, ownerID, filename string, r io.Reader, size int64) (*pipeline.Submission, error) {
	f.owner, f.filename = ownerID, filename
	data, _ := io.ReadAll(r)
	f.body = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Submission{TaskID: "t1", VideoID: "v1"}, nil
}

func (f *fakeService) IngestURL(ctx context.Context, ownerID, rawURL string) (*pipeline.Submission, error) {
	f.owner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Submission{TaskID: "t2", VideoID: "v2"}, nil
}

func (f *fakeService) GetTaskStatus(ctx context.Context, taskID string) (*pipeline.TaskStatusView, error) {
	if taskID != "t1" {
		return nil, catalog.ErrNotFound
	}
	return &pipeline.TaskStatusView{TaskID: "t1", Kind: catalog.TaskExtraction, Status: catalog.TaskStarted}, nil
}

func (f *fakeService) ListVideos(ctx context.Context, ownerID string) ([]pipeline.VideoView, error) {
	f.owner = ownerID
	return []pipeline.VideoView{{Video: &catalog.Video{ID: "v1", OwnerID: ownerID}, Clips: []pipeline.ClipView{}}}, nil
}

func (f *fakeService) GetVideo(ctx context.Context, ownerID, videoID string) (*pipeline.VideoView, error) {
	if ownerID != "alice" {
		return nil, catalog.ErrNotFound
	}
	return &pipeline.VideoView{
		Video: &catalog.Video{ID: videoID, OwnerID: ownerID, Status: catalog.VideoCompleted},
		Clips: []pipeline.ClipView{{Clip: &catalog.Clip{ID: "c1", Start: 0, End: 20}, URL: "http://x/files/c1"}},
	}, nil
}

func (f *fakeService) Search(ctx context.Context, ownerID, videoID, query string) (*pipeline.SearchResult, error) {
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.SearchResult{Start: 8, End: 20, Score: 0.7}, nil
}

func (f *fakeService) Convert(ctx context.Context, ownerID, clipID, layout string) (*pipeline.ConversionResult, error) {
	f.owner, f.layout = ownerID, layout
	if f.err != nil {
		return nil, f.err
	}
	return f.convert, nil
}

func (f *fakeService) GetConversion(ctx context.Context, ownerID, clipID string) (*pipeline.ConversionResult, error) {
	return &pipeline.ConversionResult{Status: pipeline.StatusReady, URL: "http://x/files/shorts"}, nil
}

func (f *fakeService) ClipDownload(ctx context.Context, ownerID, clipID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "http://x/files/" + clipID, nil
}

func (f *fakeService) ExportEDL(ctx context.Context, ownerID, videoID string, frameRate float64) (*pipeline.EDLExport, error) {
	f.owner, f.fps = ownerID, frameRate
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.EDLExport{Filename: "talk.edl", Body: "TITLE: talk\n", Events: 1}, nil
}

type fakeDoctor struct{ caps *transcribe.Capabilities }

func (d fakeDoctor) Peek() *transcribe.Capabilities { return d.caps }

func testConfig(svc Service) ServerConfig {
	return ServerConfig{
		Service:        svc,
		Metrics:        metrics.New(),
		Logger:         logging.Discard(),
		StartTime:      time.Now().Add(-time.Minute),
		Version:        "test",
		MaxUploadBytes: 1 << 20,
	}
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(UserIDHeader, "alice")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	cfg := testConfig(&fakeService{})
	cfg.Doctor = fakeDoctor{caps: &transcribe.Capabilities{HasTranscribe: true, PackageVersion: "1.2.0", ProbedAt: time.Now()}}
	router := NewRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["version"] != "test" || body["uptime_s"].(float64) < 59 {
		t.Errorf("body = %v", body)
	}
	tr, ok := body["transcriber"].(map[string]interface{})
	if !ok || tr["has_transcribe"] != true || tr["package_version"] != "1.2.0" {
		t.Errorf("transcriber = %v", body["transcriber"])
	}
}

func TestHealth_NoProbeYet(t *testing.T) {
	cfg := testConfig(&fakeService{})
	cfg.Doctor = fakeDoctor{}
	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if _, ok := decodeJSONBody(t, rr)["transcriber"]; ok {
		t.Error("transcriber should be omitted before the first probe")
	}
}

func TestUpload(t *testing.T) {
	svc := &fakeService{}
	router := NewRouter(testConfig(svc))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "talk.mp4")
	part.Write([]byte("video bytes"))
	mw.Close()

	rr := do(t, router, http.MethodPost, "/videos/upload", &buf, map[string]string{"Content-Type": mw.FormDataContentType()})

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s, want 202", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["task_id"] != "t1" || body["video_id"] != "v1" {
		t.Errorf("body = %v", body)
	}
	if svc.owner != "alice" || svc.filename != "talk.mp4" || svc.body != "video bytes" {
		t.Errorf("service saw owner=%q filename=%q body=%q", svc.owner, svc.filename, svc.body)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	router := NewRouter(testConfig(&fakeService{}))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("name", "x")
	mw.Close()

	rr := do(t, router, http.MethodPost, "/videos/upload", &buf, map[string]string{"Content-Type": mw.FormDataContentType()})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestUpload_ValidationError(t *testing.T) {
	svc := &fakeService{err: catalog.Invalid("filename", "unsupported file type \".txt\"")}
	router := NewRouter(testConfig(svc))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "notes.txt")
	part.Write([]byte("x"))
	mw.Close()

	rr := do(t, router, http.MethodPost, "/videos/upload", &buf, map[string]string{"Content-Type": mw.FormDataContentType()})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "BAD_REQUEST" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestIngestURL(t *testing.T) {
	router := NewRouter(testConfig(&fakeService{}))

	rr := do(t, router, http.MethodPost, "/videos/url", strings.NewReader(`{"url":"https://youtu.be/abc"}`), nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}

	rr = do(t, router, http.MethodPost, "/videos/url", strings.NewReader(`{}`), nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty url status = %d, want 400", rr.Code)
	}
}

func TestRoutes_RequireOwner(t *testing.T) {
	router := NewRouter(testConfig(&fakeService{}))

	for _, path := range []string{"/videos", "/videos/v1", "/tasks/t1", "/clips/c1/conversion"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rr.Code)
		}
	}
}

func TestTaskStatus(t *testing.T) {
	router := NewRouter(testConfig(&fakeService{}))

	rr := do(t, router, http.MethodGet, "/tasks/t1", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["task_id"] != "t1" || body["status"] != "STARTED" {
		t.Errorf("body = %v", body)
	}

	if rr := do(t, router, http.MethodGet, "/tasks/nope", nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", rr.Code)
	}
}

func TestGetVideo(t *testing.T) {
	router := NewRouter(testConfig(&fakeService{}))

	rr := do(t, router, http.MethodGet, "/videos/v1", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	clips, ok := body["clips"].([]interface{})
	if !ok || len(clips) != 1 {
		t.Fatalf("clips = %v", body["clips"])
	}
	if clips[0].(map[string]interface{})["url"] != "http://x/files/c1" {
		t.Errorf("clip = %v", clips[0])
	}

	rr = do(t, router, http.MethodGet, "/videos/v1", nil, map[string]string{UserIDHeader: "mallory"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign owner status = %d, want 404", rr.Code)
	}
}

func TestListVideos(t *testing.T) {
	svc := &fakeService{}
	router := NewRouter(testConfig(svc))

	rr := do(t, router, http.MethodGet, "/videos", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	videos, ok := decodeJSONBody(t, rr)["videos"].([]interface{})
	if !ok || len(videos) != 1 || svc.owner != "alice" {
		t.Errorf("videos = %v owner = %q", videos, svc.owner)
	}
}

func TestSearch(t *testing.T) {
	svc := &fakeService{}
	router := NewRouter(testConfig(svc))

	rr := do(t, router, http.MethodGet, "/videos/v1/search?q=sourdough+starter", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["start"] != 8.0 || body["end"] != 20.0 || svc.query != "sourdough starter" {
		t.Errorf("body = %v query = %q", body, svc.query)
	}

	if rr := do(t, router, http.MethodGet, "/videos/v1/search", nil, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", rr.Code)
	}

	svc.err = catalog.ErrNotIndexed
	rr = do(t, router, http.MethodGet, "/videos/v1/search?q=bread", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("not indexed status = %d, want 404", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "NOT_INDEXED" {
		t.Errorf("code = %v, want NOT_INDEXED", body["code"])
	}
}

func TestConvert(t *testing.T) {
	svc := &fakeService{convert: &pipeline.ConversionResult{Status: pipeline.StatusProcessing, TaskID: "t9"}}
	router := NewRouter(testConfig(svc))

	rr := do(t, router, http.MethodPost, "/clips/c1/convert", strings.NewReader(`{"layout":"blurred"}`), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["status"] != "processing" || body["task_id"] != "t9" {
		t.Errorf("body = %v", body)
	}
	if svc.layout != "blurred" {
		t.Errorf("layout = %q, want blurred", svc.layout)
	}

	// empty body uses the default layout
	rr = do(t, router, http.MethodPost, "/clips/c1/convert", nil, nil)
	if rr.Code != http.StatusOK || svc.layout != "" {
		t.Errorf("empty body status = %d layout = %q", rr.Code, svc.layout)
	}

	if rr := do(t, router, http.MethodPost, "/clips/c1/convert", strings.NewReader(`{bad`), nil); rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rr.Code)
	}
}

func TestConversionAndDownload(t *testing.T) {
	svc := &fakeService{}
	router := NewRouter(testConfig(svc))

	rr := do(t, router, http.MethodGet, "/clips/c1/conversion", nil, nil)
	if body := decodeJSONBody(t, rr); body["status"] != "ready" || body["url"] == "" {
		t.Errorf("conversion body = %v", body)
	}

	rr = do(t, router, http.MethodGet, "/clips/c1/download", nil, nil)
	if body := decodeJSONBody(t, rr); body["url"] != "http://x/files/c1" {
		t.Errorf("download body = %v", body)
	}

	svc.err = catalog.ErrNotFound
	if rr := do(t, router, http.MethodGet, "/clips/c1/download", nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing clip status = %d, want 404", rr.Code)
	}
}

func TestExportEDL(t *testing.T) {
	svc := &fakeService{}
	router := NewRouter(testConfig(svc))

	rr := do(t, router, http.MethodGet, "/videos/v1/edl?fps=29.97", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if svc.fps != 29.97 || svc.owner != "alice" {
		t.Errorf("fps = %v owner = %q", svc.fps, svc.owner)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != "attachment; filename=talk.edl" {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rr.Body.String() != "TITLE: talk\n" {
		t.Errorf("body = %q", rr.Body.String())
	}

	if rr := do(t, router, http.MethodGet, "/videos/v1/edl?fps=fast", nil, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad fps status = %d, want 400", rr.Code)
	}
}

func TestIngestRateLimited(t *testing.T) {
	cfg := testConfig(&fakeService{})
	cfg.Limiter = &memCounter{}
	cfg.RateLimit = 1
	cfg.RateWindow = time.Minute
	router := NewRouter(cfg)

	body := `{"url":"https://example.com/a.mp4"}`
	if rr := do(t, router, http.MethodPost, "/videos/url", strings.NewReader(body), nil); rr.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", rr.Code)
	}
	if rr := do(t, router, http.MethodPost, "/videos/url", strings.NewReader(body), nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rr.Code)
	}
	// reads are not limited
	if rr := do(t, router, http.MethodGet, "/videos", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("list status = %d, want 200", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(testConfig(&fakeService{}))
	do(t, router, http.MethodGet, "/videos", nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `clipforge_http_requests_total{code="200",method="GET",route="/videos"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", rr.Body.String())
	}
}

func TestFiles_SignedPlayback(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewLocalStore(root, "http://example.com", storage.NewSigner([]byte("k")), nil)
	if err != nil {
		t.Fatal(err)
	}
	key := "clips/alice/v1/v1_clip_0.mp4"
	if err := store.Put(context.Background(), key, strings.NewReader("0123456789"), 10, "video/mp4"); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(&fakeService{})
	cfg.Playback = playback.NewServer(store, logging.Discard())
	router := NewRouter(cfg)

	signed, err := store.PresignGet(context.Background(), key, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	path := strings.TrimPrefix(signed, "http://example.com")

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent || rr.Body.String() != "2345" {
		t.Errorf("got %d %q, want 206 \"2345\"", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/files/"+key+"?expires=1&sig=bad", nil))
	if rr.Code == http.StatusOK || rr.Code == http.StatusPartialContent {
		t.Errorf("bad signature status = %d", rr.Code)
	}

	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(key))); err != nil {
		t.Errorf("object missing on disk: %v", err)
	}
}
