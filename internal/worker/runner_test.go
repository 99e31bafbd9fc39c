package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"portalwatch/internal/config"
	"portalwatch/internal/logger"
	"portalwatch/internal/models"
	"portalwatch/internal/notify"
)

// The fake portal serves ASCII pages only. ASCII is a strict subset of the
// portal's legacy encoding, so the decoding path stays exercised without
// fixture byte tables.
const fakeBoardPage = `<html><body>
<table id="T1">
<tr><td>header</td></tr>
<tr>
  <td>M1</td>
  <td>Academic Office</td>
  <td>04/01 09:30</td>
  <td>04/02 18:05</td>
  <td><a href="dtl.asp?dID=1">Room change</a></td>
</tr>
</table>
</body></html>`

const fakeDetailPage = `<html><body><div class="clsContainer"><div>
<table class="clsTb"><tbody>
<tr><td>Room change</td></tr>
<tr><td>2025/4/2 18:05</td></tr>
<tr><td>Lecture moved to B201.</td></tr>
<tr><td><a href="file.asp?fID=7">map.pdf</a></td></tr>
</tbody></table>
</div></div></body></html>`

type fakeAggregator struct {
	mu      sync.Mutex
	batches []notify.Batch
}

func (a *fakeAggregator) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch notify.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		a.mu.Lock()
		a.batches = append(a.batches, batch)
		a.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	})
}

func (a *fakeAggregator) received() []notify.Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]notify.Batch(nil), a.batches...)
}

type cycleFixture struct {
	runner *Runner
	agg    *fakeAggregator
	path   string
}

func newCycleFixture(t *testing.T, boardPage string) *cycleFixture {
	t.Helper()

	t.Setenv("LOGIN_ID", "user@example.ac.jp")
	t.Setenv("LOGIN_PASSWORD", "secret")
	t.Setenv("UPLOAD_TOKEN", "tok")

	mux := http.NewServeMux()
	mux.HandleFunc("/default.asp", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(boardPage))
	})
	mux.HandleFunc("/dtl.asp", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fakeDetailPage))
	})
	mux.HandleFunc("/file.asp", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})

	portalSrv := httptest.NewServer(mux)
	t.Cleanup(portalSrv.Close)

	uploadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"fileUrl": "https://files.example/stored"}`))
	}))
	t.Cleanup(uploadSrv.Close)

	agg := &fakeAggregator{}
	aggSrv := httptest.NewServer(agg.handler())
	t.Cleanup(aggSrv.Close)

	snapshotPath := filepath.Join(t.TempDir(), "snapshot.json")

	cfg := &config.Config{
		Portal: config.PortalConfig{
			BaseURL:    portalSrv.URL + "/",
			LoginPath:  "default.asp",
			Tables:     []string{"#T1"},
			HeaderRows: 1,
			Timezone:   "UTC",
		},
		Poll:     config.PollConfig{IntervalMin: 15},
		Retry:    config.RetryPolicy{MaxAttempts: 1, BackoffMultiplier: 2.0, TimeoutSec: 5},
		Snapshot: config.SnapshotConfig{Path: snapshotPath},
		Ingest:   config.IngestConfig{VolumeThreshold: 20, MaxConcurrent: 2},
		Upload:   config.UploadConfig{URL: uploadSrv.URL},
		Notify:   config.NotifyConfig{AggregatorURL: aggSrv.URL, GradePattern: "^M[1-6]$"},
		Logging:  config.LoggingConfig{Level: "error", Format: "text"},
	}

	return &cycleFixture{
		runner: New(cfg, logger.Discard()),
		agg:    agg,
		path:   snapshotPath,
	}
}

func TestRunCycle_FirstRunNotifiesAndPersists(t *testing.T) {
	fx := newCycleFixture(t, fakeBoardPage)

	if err := fx.runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	batches := fx.agg.received()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}

	batch := batches[0]
	if len(batch.New) != 1 || len(batch.Updated) != 0 {
		t.Fatalf("batch = %d new / %d updated, want 1/0", len(batch.New), len(batch.Updated))
	}

	item := batch.New[0]
	if item.ID != "1" || item.Title != "Room change" {
		t.Errorf("notified item = %+v", item)
	}

	if item.Content == nil || !strings.Contains(*item.Content, "B201") {
		t.Errorf("detail content missing: %v", item.Content)
	}

	if len(item.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(item.Attachments))
	}

	if item.Attachments[0].FileURL == nil || *item.Attachments[0].FileURL != "https://files.example/stored" {
		t.Errorf("attachment not ingested: %+v", item.Attachments[0])
	}

	data, err := os.ReadFile(fx.path)
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	var saved []models.Notice
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}

	if len(saved) != 1 || saved[0].ID != "1" {
		t.Errorf("snapshot = %+v", saved)
	}
}

func TestRunCycle_SecondRunIsQuiet(t *testing.T) {
	fx := newCycleFixture(t, fakeBoardPage)

	if err := fx.runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}

	if err := fx.runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}

	if got := len(fx.agg.received()); got != 1 {
		t.Errorf("got %d batches after two identical cycles, want 1", got)
	}
}

func TestRunCycle_VolumeValveSkipsNotification(t *testing.T) {
	var sb strings.Builder

	sb.WriteString(`<html><body><table id="T1"><tr><td>header</td></tr>`)

	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&sb, `<tr><td>M1</td><td>Office</td><td>04/01 09:30</td><td>04/01 09:30</td><td><a href="dtl.asp?dID=%d">Notice %d</a></td></tr>`, i, i)
	}

	sb.WriteString(`</table></body></html>`)

	fx := newCycleFixture(t, sb.String())

	if err := fx.runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if got := len(fx.agg.received()); got != 0 {
		t.Errorf("got %d batches, want 0 past the volume threshold", got)
	}

	// The snapshot must still advance so a recovered baseline exists.
	data, err := os.ReadFile(fx.path)
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	var saved []models.Notice
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}

	if len(saved) != 25 {
		t.Errorf("snapshot holds %d notices, want 25", len(saved))
	}
}

func TestRunCycle_MissingCredentialsIsFatal(t *testing.T) {
	fx := newCycleFixture(t, fakeBoardPage)

	t.Setenv("LOGIN_ID", "")

	if err := fx.runner.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error without credentials")
	}

	if _, err := os.Stat(fx.path); !os.IsNotExist(err) {
		t.Errorf("snapshot written despite fatal cycle")
	}
}

func TestRunCycle_DetailFailureKeepsBoardFields(t *testing.T) {
	fx := newCycleFixture(t, fakeBoardPage)

	// Replace the fixture portal with one whose detail endpoint fails.
	mux := http.NewServeMux()
	mux.HandleFunc("/default.asp", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fakeBoardPage))
	})
	mux.HandleFunc("/dtl.asp", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	})

	portalSrv := httptest.NewServer(mux)
	t.Cleanup(portalSrv.Close)

	fx.runner.cfg.Portal.BaseURL = portalSrv.URL + "/"

	if err := fx.runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	batches := fx.agg.received()
	if len(batches) != 1 || len(batches[0].New) != 1 {
		t.Fatalf("batches = %+v", batches)
	}

	item := batches[0].New[0]
	if item.Title != "Room change" || item.Content != nil {
		t.Errorf("item = %+v, want board fields only", item)
	}
}
