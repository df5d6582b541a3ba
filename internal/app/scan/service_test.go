package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/backend"
	"github.com/ahrav/codesentry/internal/infra/documents"
	"github.com/ahrav/codesentry/internal/payload"
	"github.com/ahrav/codesentry/internal/results"
	"github.com/ahrav/codesentry/internal/scanjob"
	"github.com/ahrav/codesentry/internal/tracker"
	"github.com/ahrav/codesentry/internal/upload"
	"github.com/ahrav/codesentry/pkg/common"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

type fixedToken string

func (tok fixedToken) Token(context.Context) (string, error) { return string(tok), nil }

// fakeBackend is an httptest-backed scan API recording per-operation call
// counts. Hooks fire inside the handler goroutines.
type fakeBackend struct {
	srv *httptest.Server

	mu      sync.Mutex
	counts  map[string]int
	nextJob int

	createScanStatus int // non-zero makes CreateScan reply with this HTTP status
	findingsJSON     func(jobID string) string
	beforeGetScan    func(jobID string)
	onPut            func()
}

func newFakeBackend(t *testing.T) *fakeBackend {
	fb := &fakeBackend{counts: make(map[string]int)}
	fb.srv = httptest.NewServer(http.HandlerFunc(fb.handle))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) bump(op string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.counts[op]++
}

func (fb *fakeBackend) count(op string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.counts[op]
}

func (fb *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		fb.bump("PutObject")
		if fb.onPut != nil {
			fb.onPut()
		}
		return
	}

	op := strings.TrimPrefix(r.URL.Path, "/")
	fb.bump(op)

	switch op {
	case "CreateUploadUrl":
		json.NewEncoder(w).Encode(backend.CreateUploadURLResponse{
			UploadID:  "up-1",
			UploadURL: fb.srv.URL + "/artifact",
		})
	case "CreateScan":
		if fb.createScanStatus != 0 {
			w.WriteHeader(fb.createScanStatus)
			return
		}
		fb.mu.Lock()
		fb.nextJob++
		jobID := fmt.Sprintf("job-%d", fb.nextJob)
		fb.mu.Unlock()
		json.NewEncoder(w).Encode(backend.CreateScanResponse{JobID: jobID, Status: "Pending"})
	case "GetScan":
		var req struct {
			JobID string `json:"jobId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if fb.beforeGetScan != nil {
			fb.beforeGetScan(req.JobID)
		}
		json.NewEncoder(w).Encode(backend.GetScanResponse{Status: "Completed"})
	case "ListFindings":
		var req backend.ListFindingsRequest
		json.NewDecoder(r.Body).Decode(&req)
		batch := "[]"
		if fb.findingsJSON != nil {
			batch = fb.findingsJSON(req.JobID)
		}
		json.NewEncoder(w).Encode(backend.ListFindingsResponse{Findings: []string{batch}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestService(t *testing.T, root string, fb *fakeBackend, limits scan.Limits) (*Service, *tracker.Tracker) {
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")
	api := backend.NewClient(fb.srv.URL, fixedToken("tok"), common.NewRateLimiter(1000, 1000), tracer)

	ignore := results.NewIgnoreList("")
	docs := documents.NewMemoryStore()
	trk := tracker.New(ignore, log)

	svc := NewService(
		root,
		limits,
		nil,
		docs,
		api,
		payload.NewBuilder(docs, limits, log, tracer),
		upload.NewCoordinator(api, "", log, tracer),
		scanjob.NewOrchestrator(api, log, tracer),
		results.NewAggregator(api, docs, ignore, log, tracer),
		trk,
		NopNotifier{},
		log,
		tracer,
	)
	return svc, trk
}

func writeWorkspaceFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func rawFindingJSON(relPath, title string) string {
	return fmt.Sprintf(`[{"filePath":%q,"startLine":1,"endLine":1,"title":%q,"findingId":"f-1","severity":"High","description":{"text":"d"}}]`, relPath, title)
}

func TestStartScanCleanRescanClearsTrackedFindings(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	file := writeWorkspaceFile(t, root, "app.py", "password = \"hunter2\"\n")

	fb := newFakeBackend(t)
	fb.findingsJSON = func(jobID string) string {
		if jobID == "job-1" {
			return rawFindingJSON("app.py", "Hardcoded credential")
		}
		return "[]"
	}
	svc, trk := newTestService(t, root, fb, scan.Limits{})

	_, err := svc.StartScan(context.Background(), file, scan.ScopeFileOnDemand)
	require.NoError(t, err)
	require.Len(t, trk.Findings(file), 1)

	// The user fixed the issue; a clean re-scan of the same file must
	// destroy the previous scan's findings rather than keep them forever.
	res, err := svc.StartScan(context.Background(), file, scan.ScopeFileOnDemand)
	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Empty(t, trk.Findings(file))
}

func TestStartScanOversizedFileMakesNoBackendCalls(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	file := writeWorkspaceFile(t, root, "big.py", strings.Repeat("x = 1\n", 100))

	fb := newFakeBackend(t)
	svc, _ := newTestService(t, root, fb, scan.Limits{FilePayloadBytes: 16})

	_, err := svc.StartScan(context.Background(), file, scan.ScopeFileOnDemand)
	require.Error(t, err)
	assert.Equal(t, scan.ErrCodeFileSizeExceeded, scan.CodeOf(err))

	assert.Zero(t, fb.count("CreateUploadUrl"), "size rejection must precede any network call")
	assert.Zero(t, fb.count("PutObject"))
}

func TestStartScanStopDuringUploadPreventsJobCreation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	file := writeWorkspaceFile(t, root, "app.py", "x = 1\n")

	fb := newFakeBackend(t)
	svc, _ := newTestService(t, root, fb, scan.Limits{})
	fb.onPut = func() { svc.StopScan(scan.ScopeFileOnDemand) }

	_, err := svc.StartScan(context.Background(), file, scan.ScopeFileOnDemand)
	require.Error(t, err)
	assert.True(t, scan.IsScanStopped(err))

	assert.Zero(t, fb.count("CreateScan"), "no network call may follow a latched stop request")
	assert.Zero(t, fb.count("GetScan"))
}

func TestStartScanFileAutoSupersededResultsDropped(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	file := writeWorkspaceFile(t, root, "app.py", "x = 1\n")

	fb := newFakeBackend(t)
	release := make(chan struct{})
	fb.beforeGetScan = func(jobID string) {
		if jobID == "job-1" {
			<-release
		}
	}
	fb.findingsJSON = func(jobID string) string {
		if jobID == "job-1" {
			return rawFindingJSON("app.py", "stale finding")
		}
		return rawFindingJSON("app.py", "fresh finding")
	}
	svc, trk := newTestService(t, root, fb, scan.Limits{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.StartScan(context.Background(), file, scan.ScopeFileAuto)
		firstErr <- err
	}()

	// Wait until the first scan's job exists, then start a newer one that
	// completes while the first is still polling.
	require.Eventually(t, func() bool { return fb.count("CreateScan") >= 1 },
		5*time.Second, 10*time.Millisecond)

	_, err := svc.StartScan(context.Background(), file, scan.ScopeFileAuto)
	require.NoError(t, err)

	close(release)
	err = <-firstErr
	require.Error(t, err)
	assert.True(t, scan.IsScanStopped(err), "a superseded scan unwinds as stopped")

	tracked := trk.Findings(file)
	require.Len(t, tracked, 1)
	assert.Equal(t, "fresh finding", tracked[0].Title, "stale results must not overwrite the newer scan's")
}

func TestStartScanFailureRemovesPayloadArchive(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	root := t.TempDir()
	file := writeWorkspaceFile(t, root, "app.py", "x = 1\n")

	fb := newFakeBackend(t)
	fb.createScanStatus = http.StatusInternalServerError
	svc, _ := newTestService(t, root, fb, scan.Limits{})

	_, err := svc.StartScan(context.Background(), file, scan.ScopeFileOnDemand)
	require.Error(t, err)
	assert.Equal(t, scan.ErrCodeCreateScanFailed, scan.CodeOf(err))

	leftovers, globErr := filepath.Glob(filepath.Join(tmp, "codesentry-*.zip"))
	require.NoError(t, globErr)
	assert.Empty(t, leftovers, "the temp archive must be removed on failure paths")
}

func TestClassifyFallsBackToScanJobFailed(t *testing.T) {
	t.Parallel()

	err := classify(fmt.Errorf("disk read error"))
	assert.Equal(t, scan.ErrCodeScanJobFailed, err.Code)
}
