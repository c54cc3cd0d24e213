package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/dispatch"
	"github.com/clipforge/clipforge/internal/extract"
	"github.com/clipforge/clipforge/internal/logging"
	"github.com/clipforge/clipforge/internal/media"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/search"
	"github.com/clipforge/clipforge/internal/source"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/transcribe"
)

type fakeFFmpeg struct {
	cuts        atomic.Int32
	reframes    atomic.Int32
	failCut     func(start float64) bool
	reframeHook func(ctx context.Context) error
}

func (f *fakeFFmpeg) Probe(ctx context.Context, path string) (*media.Probe, error) {
	return &media.Probe{Width: 1920, Height: 1080, Duration: 120}, nil
}

func (f *fakeFFmpeg) Cut(ctx context.Context, in, out string, start, end float64) error {
	f.cuts.Add(1)
	if f.failCut != nil && f.failCut(start) {
		return errors.New("ffmpeg exited 1")
	}
	return os.WriteFile(out, []byte("clip"), 0644)
}

func (f *fakeFFmpeg) Reframe(ctx context.Context, in, out, layout string, probe *media.Probe) error {
	f.reframes.Add(1)
	if f.reframeHook != nil {
		if err := f.reframeHook(ctx); err != nil {
			return err
		}
	}
	return os.WriteFile(out, []byte("short"), 0644)
}

type fakeExtractor struct {
	calls  atomic.Int32
	result *extract.Result
}

func (f *fakeExtractor) Extract(ctx context.Context, videoPath string) (*extract.Result, error) {
	f.calls.Add(1)
	if _, err := os.Stat(videoPath); err != nil {
		return nil, err
	}
	return f.result, nil
}

// recordingDispatcher queues jobs so tests decide when workers run.
type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, job dispatch.Job) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) drain(t *testing.T, o *Orchestrator) {
	t.Helper()
	d.mu.Lock()
	jobs := d.jobs
	d.jobs = nil
	d.mu.Unlock()
	for _, job := range jobs {
		o.Handle(context.Background(), job)
	}
}

// threeCandidates is 20s, 45s and 15s windows where the 15s one overlaps
// the 45s one by 80% of its own length.
func threeCandidates() *extract.Result {
	return &extract.Result{
		Transcript: &transcribe.Transcript{
			Duration: 120,
			Segments: []transcribe.Segment{
				{Start: 0, End: 8, Text: "welcome back to the bakery"},
				{Start: 8, End: 20, Text: "a sourdough starter needs flour and water every day"},
				{Start: 20, End: 40, Text: "shaping the loaf takes practice"},
			},
		},
		Candidates: []extract.Candidate{
			{Start: 0, End: 20, Reason: "intro hook", Score: 0.9},
			{Start: 30, End: 75, Reason: "long story", Score: 0.8},
			{Start: 63, End: 78, Reason: "punchline", Score: 0.7},
		},
	}
}

type harness struct {
	o     *Orchestrator
	repo  *catalog.SQLRepository
	store *storage.LocalStore
	ff    *fakeFFmpeg
	ex    *fakeExtractor
	disp  *recordingDispatcher
}

func newHarness(t *testing.T, fetcher Fetcher) *harness {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	repo := catalog.NewRepository(database.Conn(), database.Dialect())

	store, err := storage.NewLocalStore(t.TempDir(), "http://localhost:8080", storage.NewSigner([]byte("k")), nil)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	logger := logging.Discard()
	ff := &fakeFFmpeg{}
	ex := &fakeExtractor{result: threeCandidates()}
	if fetcher == nil {
		fetcher = source.NewResolver(source.NewHTTPFetcher(nil, 0, logger), nil)
	}

	o := New(Deps{
		Repo:      repo,
		Store:     store,
		Sources:   fetcher,
		Extractor: ex,
		Renderer:  media.NewRenderer(ff, store, logger),
		Indexer:   search.NewIndexer(repo, search.NewHashEmbedder(0), logger),
		Metrics:   metrics.New(),
		Logger:    logger,
	}, Config{WorkDir: t.TempDir(), RenderConcurrency: 2})

	disp := &recordingDispatcher{}
	o.SetDispatcher(disp)
	return &harness{o: o, repo: repo, store: store, ff: ff, ex: ex, disp: disp}
}

func (h *harness) upload(t *testing.T, owner string) *Submission {
	t.Helper()
	body := "fake video bytes"
	sub, err := h.o.IngestUpload(context.Background(), owner, "talk.mp4", strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("IngestUpload() error = %v", err)
	}
	return sub
}

func (h *harness) taskStatus(t *testing.T, id string) catalog.TaskStatus {
	t.Helper()
	st, err := h.o.GetTaskStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTaskStatus() error = %v", err)
	}
	return st.Status
}

func TestIngestUpload_CreatesOneTaskAndVideo(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sub := h.upload(t, "alice")

	if st := h.taskStatus(t, sub.TaskID); st != catalog.TaskPending && st != catalog.TaskStarted {
		t.Errorf("status = %s, want PENDING or STARTED", st)
	}
	tasks, err := h.repo.ListTasks(ctx, catalog.TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].SubjectID != sub.VideoID {
		t.Fatalf("tasks = %+v, want one for video %s", tasks, sub.VideoID)
	}
	videos, _ := h.repo.ListVideos(ctx, "alice")
	if len(videos) != 1 {
		t.Fatalf("videos = %d, want 1", len(videos))
	}
	if ok, _ := h.store.Exists(ctx, videos[0].SourceKey); !ok {
		t.Error("upload not stored")
	}
	if len(h.disp.jobs) != 1 || h.disp.jobs[0].Kind != catalog.TaskExtraction {
		t.Errorf("dispatched = %+v", h.disp.jobs)
	}
}

func TestIngestUpload_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		owner    string
		filename string
		size     int64
	}{
		{"no owner", "", "a.mp4", 3},
		{"no filename", "alice", "", 3},
		{"not a video", "alice", "notes.txt", 3},
		{"empty", "alice", "a.mp4", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.o.IngestUpload(ctx, tt.owner, tt.filename, strings.NewReader("abc"), tt.size)
			if !catalog.IsValidation(err) {
				t.Errorf("error = %v, want ValidationError", err)
			}
		})
	}
	if tasks, _ := h.repo.ListTasks(ctx, catalog.TaskFilter{}); len(tasks) != 0 {
		t.Errorf("rejected uploads created %d tasks", len(tasks))
	}
}

type failingCreateRepo struct {
	catalog.Repository
}

func (failingCreateRepo) CreateVideoWithTask(ctx context.Context, v *catalog.Video, t *catalog.Task) error {
	return errors.New("disk I/O error")
}

func TestIngestUpload_InsertFailureRemovesUpload(t *testing.T) {
	h := newHarness(t, nil)
	h.o.repo = failingCreateRepo{Repository: h.repo}

	body := "fake video bytes"
	if _, err := h.o.IngestUpload(context.Background(), "alice", "talk.mp4", strings.NewReader(body), int64(len(body))); err == nil {
		t.Fatal("IngestUpload() should fail when the video row cannot be written")
	}

	var left []string
	filepath.WalkDir(h.store.Root(), func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			left = append(left, p)
		}
		return nil
	})
	if len(left) != 0 {
		t.Errorf("orphaned objects = %v", left)
	}
	if len(h.disp.jobs) != 0 {
		t.Errorf("dispatched = %+v, want none", h.disp.jobs)
	}
}

func TestIngestURL_RejectsMalformed(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.o.IngestURL(context.Background(), "alice", "ftp://example.com/a.mp4"); !catalog.IsValidation(err) {
		t.Errorf("error = %v, want ValidationError", err)
	}
}

func TestIngest_DispatchFailureFailsTask(t *testing.T) {
	h := newHarness(t, nil)
	h.disp.err = errors.New("broker down")
	ctx := context.Background()

	body := "x"
	if _, err := h.o.IngestUpload(ctx, "alice", "talk.mp4", strings.NewReader(body), 1); err == nil {
		t.Fatal("IngestUpload() should fail when dispatch fails")
	}
	videos, _ := h.repo.ListVideos(ctx, "alice")
	if len(videos) != 1 || videos[0].Status != catalog.VideoFailed {
		t.Fatalf("videos = %+v, want one FAILED", videos)
	}
	task, _ := h.repo.GetTask(ctx, videos[0].TaskID)
	if task.Status != catalog.TaskFailure {
		t.Errorf("task status = %s, want FAILURE", task.Status)
	}
}

func TestExtraction_OverlappingCandidateDropped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sub := h.upload(t, "alice")
	h.disp.drain(t, h.o)

	if st := h.taskStatus(t, sub.TaskID); st != catalog.TaskSuccess {
		t.Fatalf("task status = %s, want SUCCESS", st)
	}
	v, err := h.o.GetVideo(ctx, "alice", sub.VideoID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if v.Status != catalog.VideoCompleted {
		t.Errorf("video status = %s, want COMPLETED", v.Status)
	}
	if len(v.Clips) != 2 {
		t.Fatalf("clips = %d, want 2", len(v.Clips))
	}
	if v.Clips[0].Start != 0 || v.Clips[1].Start != 30 {
		t.Errorf("clip starts = %v, %v; want 0, 30", v.Clips[0].Start, v.Clips[1].Start)
	}
	for _, c := range v.Clips {
		if c.URL == "" || c.ShortsURL != "" {
			t.Errorf("clip %d urls = %q / %q", c.Position, c.URL, c.ShortsURL)
		}
		if c.ConversionStatus != catalog.ConversionNone {
			t.Errorf("clip %d conversion = %s", c.Position, c.ConversionStatus)
		}
	}
	if h.ff.cuts.Load() != 2 {
		t.Errorf("cuts = %d, want 2", h.ff.cuts.Load())
	}
}

func TestExtraction_PartialRenderFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.ff.failCut = func(start float64) bool { return start == 30 }

	sub := h.upload(t, "alice")
	h.disp.drain(t, h.o)

	v, err := h.o.GetVideo(context.Background(), "alice", sub.VideoID)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != catalog.VideoCompleted || len(v.Clips) != 1 {
		t.Errorf("status = %s clips = %d, want COMPLETED with 1", v.Status, len(v.Clips))
	}
}

func TestExtraction_TotalRenderFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.ff.failCut = func(float64) bool { return true }
	ctx := context.Background()

	sub := h.upload(t, "alice")
	if err := h.o.ProcessExtraction(ctx, sub.TaskID); !errors.Is(err, ErrTotalRenderFailure) {
		t.Fatalf("ProcessExtraction() error = %v, want ErrTotalRenderFailure", err)
	}

	st, _ := h.o.GetTaskStatus(ctx, sub.TaskID)
	if st.Status != catalog.TaskFailure || st.Error == "" {
		t.Errorf("task = %+v, want FAILURE with error", st)
	}
	v, _ := h.o.GetVideo(ctx, "alice", sub.VideoID)
	if v.Status != catalog.VideoFailed || len(v.Clips) != 0 {
		t.Errorf("status = %s clips = %d, want FAILED with 0", v.Status, len(v.Clips))
	}
}

func TestExtraction_RedeliveryIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sub := h.upload(t, "alice")
	if err := h.o.ProcessExtraction(ctx, sub.TaskID); err != nil {
		t.Fatal(err)
	}
	if err := h.o.ProcessExtraction(ctx, sub.TaskID); err != nil {
		t.Errorf("second ProcessExtraction() error = %v", err)
	}
	if h.ex.calls.Load() != 1 {
		t.Errorf("extract calls = %d, want 1", h.ex.calls.Load())
	}
}

func TestIngestURL_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	unreachable := srv.URL + "/talk.mp4"
	srv.Close()

	h := newHarness(t, nil)
	ctx := context.Background()

	sub, err := h.o.IngestURL(ctx, "alice", unreachable)
	if err != nil {
		t.Fatalf("IngestURL() error = %v", err)
	}
	if st := h.taskStatus(t, sub.TaskID); st != catalog.TaskPending {
		t.Errorf("status before work = %s, want PENDING", st)
	}

	err = h.o.ProcessExtraction(ctx, sub.TaskID)
	if !catalog.IsIngestion(err) {
		t.Fatalf("ProcessExtraction() error = %v, want IngestionError", err)
	}
	if st := h.taskStatus(t, sub.TaskID); st != catalog.TaskFailure {
		t.Errorf("status = %s, want FAILURE", st)
	}
	v, _ := h.o.GetVideo(ctx, "alice", sub.VideoID)
	if v.Status != catalog.VideoFailed || len(v.Clips) != 0 {
		t.Errorf("status = %s clips = %d, want FAILED with 0", v.Status, len(v.Clips))
	}
	if h.ex.calls.Load() != 0 {
		t.Error("extractor ran for an unreachable source")
	}
}

type stubFetcher struct{ data string }

func (f stubFetcher) Fetch(ctx context.Context, rawURL, dir string) (*source.Fetched, error) {
	p := filepath.Join(dir, "remote.mp4")
	if err := os.WriteFile(p, []byte(f.data), 0644); err != nil {
		return nil, err
	}
	return &source.Fetched{Path: p, Filename: "remote.mp4", Size: int64(len(f.data))}, nil
}

func TestIngestURL_PersistsSource(t *testing.T) {
	h := newHarness(t, stubFetcher{data: "remote bytes"})
	ctx := context.Background()

	sub, err := h.o.IngestURL(ctx, "alice", "https://cdn.example.com/remote.mp4")
	if err != nil {
		t.Fatal(err)
	}
	h.disp.drain(t, h.o)

	v, err := h.repo.GetVideo(ctx, sub.VideoID)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != catalog.VideoCompleted {
		t.Errorf("status = %s, want COMPLETED", v.Status)
	}
	if v.SourceKey == "" {
		t.Fatal("source key not recorded")
	}
	if ok, _ := h.store.Exists(ctx, v.SourceKey); !ok {
		t.Error("fetched source not persisted")
	}
}

func extractedClip(t *testing.T, h *harness, owner string) *ClipView {
	t.Helper()
	sub := h.upload(t, owner)
	h.disp.drain(t, h.o)
	v, err := h.o.GetVideo(context.Background(), owner, sub.VideoID)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Clips) == 0 {
		t.Fatal("no clips extracted")
	}
	return &v.Clips[0]
}

func TestConvert_ProcessingThenReady(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")

	first, err := h.o.Convert(ctx, "alice", clip.ID, "")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if first.Status != StatusProcessing || first.TaskID == "" {
		t.Fatalf("first = %+v, want processing with task", first)
	}

	second, err := h.o.Convert(ctx, "alice", clip.ID, catalog.LayoutBlurred)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != StatusProcessing || second.TaskID != first.TaskID {
		t.Errorf("second = %+v, want processing with task %s", second, first.TaskID)
	}

	tasks, _ := h.repo.ListTasks(ctx, catalog.TaskFilter{Kind: catalog.TaskConversion})
	if len(tasks) != 1 {
		t.Fatalf("conversion tasks = %d, want 1", len(tasks))
	}

	if got, _ := h.o.GetConversion(ctx, "alice", clip.ID); got.Status != StatusProcessing {
		t.Errorf("GetConversion() before work = %+v", got)
	}

	h.disp.drain(t, h.o)

	got, err := h.o.GetConversion(ctx, "alice", clip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusReady || got.URL == "" {
		t.Errorf("GetConversion() = %+v, want ready with url", got)
	}
	stored, _ := h.repo.GetClip(ctx, clip.ID)
	if stored.ConversionStatus != catalog.ConversionReady || stored.Layout != catalog.LayoutCenterCrop {
		t.Errorf("clip = %s/%s, want READY/center_crop", stored.ConversionStatus, stored.Layout)
	}
	if st := h.taskStatus(t, first.TaskID); st != catalog.TaskSuccess {
		t.Errorf("task status = %s, want SUCCESS", st)
	}
}

func TestConvert_ReadyIsNotReRendered(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")

	if _, err := h.o.Convert(ctx, "alice", clip.ID, ""); err != nil {
		t.Fatal(err)
	}
	h.disp.drain(t, h.o)
	before, _ := h.repo.GetClip(ctx, clip.ID)

	res, err := h.o.Convert(ctx, "alice", clip.ID, catalog.LayoutBlurred)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAlreadyConverted || res.URL == "" {
		t.Errorf("Convert() = %+v, want already_converted with url", res)
	}
	after, _ := h.repo.GetClip(ctx, clip.ID)
	if after.ShortsKey != before.ShortsKey {
		t.Errorf("shorts key changed %q -> %q", before.ShortsKey, after.ShortsKey)
	}
	if h.ff.reframes.Load() != 1 {
		t.Errorf("reframes = %d, want 1", h.ff.reframes.Load())
	}
}

func TestConvert_SmartLayoutWithoutFaceDetector(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")

	if _, err := h.o.Convert(ctx, "alice", clip.ID, catalog.LayoutSmart); err != nil {
		t.Fatalf("Convert(smart) error = %v", err)
	}
	h.disp.drain(t, h.o)

	stored, _ := h.repo.GetClip(ctx, clip.ID)
	if stored.ConversionStatus != catalog.ConversionReady || stored.Layout != catalog.LayoutSmart {
		t.Errorf("clip = %s/%s, want READY/smart", stored.ConversionStatus, stored.Layout)
	}
}

func TestConvert_Errors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")

	if _, err := h.o.Convert(ctx, "alice", clip.ID, "spin"); !catalog.IsValidation(err) {
		t.Errorf("bad layout error = %v, want ValidationError", err)
	}
	if _, err := h.o.Convert(ctx, "mallory", clip.ID, ""); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("foreign owner error = %v, want ErrNotFound", err)
	}
	if _, err := h.o.Convert(ctx, "alice", "missing", ""); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("missing clip error = %v, want ErrNotFound", err)
	}
	if got, _ := h.o.GetConversion(ctx, "alice", clip.ID); got.Status != StatusNone {
		t.Errorf("GetConversion() = %+v, want none", got)
	}
}

func TestConvert_RenderFailureReleasesClip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")

	res, _ := h.o.Convert(ctx, "alice", clip.ID, "")
	if err := os.RemoveAll(h.store.Root()); err != nil {
		t.Fatal(err)
	}
	if err := h.o.ProcessConversion(ctx, res.TaskID); err == nil {
		t.Fatal("ProcessConversion() should fail when the clip is gone")
	}

	if st := h.taskStatus(t, res.TaskID); st != catalog.TaskFailure {
		t.Errorf("task status = %s, want FAILURE", st)
	}
	if got, _ := h.o.GetConversion(ctx, "alice", clip.ID); got.Status != StatusNone {
		t.Errorf("GetConversion() = %+v, want none", got)
	}
}

func TestConvert_ConcurrentRequestsShareOneTask(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		taskIDs = map[string]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.o.Convert(ctx, "alice", clip.ID, "")
			if err != nil {
				t.Errorf("Convert() error = %v", err)
				return
			}
			if res.Status != StatusProcessing {
				t.Errorf("Convert() status = %s, want processing", res.Status)
			}
			mu.Lock()
			taskIDs[res.TaskID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	tasks, _ := h.repo.ListTasks(ctx, catalog.TaskFilter{Kind: catalog.TaskConversion})
	if len(tasks) != 1 {
		t.Fatalf("conversion tasks = %d, want 1", len(tasks))
	}
	if len(taskIDs) != 1 || taskIDs[tasks[0].ID] != callers {
		t.Errorf("task ids returned = %v, want all %d callers on %s", taskIDs, callers, tasks[0].ID)
	}
	if len(h.disp.jobs) != 1 || h.disp.jobs[0].TaskID != tasks[0].ID {
		t.Errorf("dispatched = %+v, want one job for %s", h.disp.jobs, tasks[0].ID)
	}
}

func TestConvert_CancelledWorkerReleasesClip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")

	first, err := h.o.Convert(ctx, "alice", clip.ID, "")
	if err != nil {
		t.Fatal(err)
	}

	// the worker is told to stop while ffmpeg is running
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.ff.reframeHook = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}
	if err := h.o.ProcessConversion(jobCtx, first.TaskID); !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessConversion() error = %v, want context.Canceled", err)
	}

	if st := h.taskStatus(t, first.TaskID); st != catalog.TaskFailure {
		t.Errorf("task status = %s, want FAILURE", st)
	}
	stored, _ := h.repo.GetClip(ctx, clip.ID)
	if stored.ConversionStatus != catalog.ConversionNone {
		t.Errorf("clip conversion status = %s, want NONE", stored.ConversionStatus)
	}

	// a redelivered job is a no-op and the clip can be converted again
	if err := h.o.ProcessConversion(ctx, first.TaskID); err != nil {
		t.Errorf("redelivered ProcessConversion() error = %v", err)
	}
	h.ff.reframeHook = nil
	h.disp.jobs = nil
	again, err := h.o.Convert(ctx, "alice", clip.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != StatusProcessing || again.TaskID == first.TaskID {
		t.Fatalf("Convert() after failure = %+v, want a new task", again)
	}
	h.disp.drain(t, h.o)
	if got, _ := h.o.GetConversion(ctx, "alice", clip.ID); got.Status != StatusReady {
		t.Errorf("GetConversion() = %+v, want ready", got)
	}
}

func TestSearch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sub := h.upload(t, "alice")
	if _, err := h.o.Search(ctx, "alice", sub.VideoID, "sourdough"); !errors.Is(err, catalog.ErrNotIndexed) {
		t.Fatalf("Search() before indexing error = %v, want ErrNotIndexed", err)
	}

	h.disp.drain(t, h.o)

	got, err := h.o.Search(ctx, "alice", sub.VideoID, "sourdough starter")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got.Start != 8 || got.End != 20 {
		t.Errorf("match = [%v, %v], want [8, 20]", got.Start, got.End)
	}
	if !(got.Start >= 0 && got.Start < got.End) {
		t.Errorf("invalid window %+v", got)
	}
	if _, err := h.o.Search(ctx, "mallory", sub.VideoID, "sourdough"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("foreign owner error = %v, want ErrNotFound", err)
	}
}

func TestListVideosAndDownload(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")
	h.upload(t, "bob")

	videos, err := h.o.ListVideos(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) != 1 || len(videos[0].Clips) != 2 {
		t.Fatalf("videos = %+v, want 1 with 2 clips", videos)
	}
	if videos[0].Clips[0].URL != "" {
		t.Error("list view should not carry urls")
	}

	url, err := h.o.ClipDownload(ctx, "alice", clip.ID)
	if err != nil || !strings.HasPrefix(url, "http://localhost:8080/files/") {
		t.Errorf("ClipDownload() = %q, %v", url, err)
	}
	if _, err := h.o.ClipDownload(ctx, "bob", clip.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("foreign download error = %v, want ErrNotFound", err)
	}
}

func TestFailTask(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sub := h.upload(t, "alice")
	if err := h.o.FailTask(ctx, sub.TaskID, "timed out"); err != nil {
		t.Fatalf("FailTask() error = %v", err)
	}
	st, _ := h.o.GetTaskStatus(ctx, sub.TaskID)
	if st.Status != catalog.TaskFailure || st.Error != "timed out" {
		t.Errorf("task = %+v", st)
	}
	v, _ := h.repo.GetVideo(ctx, sub.VideoID)
	if v.Status != catalog.VideoFailed {
		t.Errorf("video status = %s, want FAILED", v.Status)
	}

	// terminal tasks are left alone
	if err := h.o.FailTask(ctx, sub.TaskID, "again"); err != nil {
		t.Errorf("FailTask() on terminal task error = %v", err)
	}
	if err := h.o.ProcessExtraction(ctx, sub.TaskID); err != nil {
		t.Errorf("ProcessExtraction() after failure error = %v", err)
	}
}

func TestFailTask_CancelledContext(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.upload(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.o.FailTask(ctx, sub.TaskID, "worker stopped"); err != nil {
		t.Fatalf("FailTask() with cancelled context error = %v", err)
	}
	if st := h.taskStatus(t, sub.TaskID); st != catalog.TaskFailure {
		t.Errorf("task status = %s, want FAILURE", st)
	}
}
