package dispatch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/disk"
	"mercator-hq/tabula/pkg/export/writer"
	"mercator-hq/tabula/pkg/telemetry/tracing"
)

// UsersExport declares nothing.
type UsersExport struct {
	Count int `json:"count"`
}

func (e *UsersExport) Rows(context.Context) (export.Rows, error) {
	rows := make([][]any, e.Count)
	for i := range rows {
		rows[i] = []any{i + 1, fmt.Sprintf("user%d@example.com", i+1)}
	}
	return export.SliceRows(rows), nil
}

// csvHeadersExport declares CSV with explicit response headers.
type csvHeadersExport struct{}

func (csvHeadersExport) Rows(context.Context) (export.Rows, error) {
	return export.SliceRows([][]any{{"a", 1}}), nil
}
func (csvHeadersExport) WriterType() export.Format { return export.CSV }
func (csvHeadersExport) Headers() http.Header {
	return http.Header{"Content-Type": {"text/csv"}, "X-Export": {"declared"}}
}

// storedReport declares a destination and a registry key.
type storedReport struct {
	Year int `json:"year"`
}

func (e *storedReport) Rows(context.Context) (export.Rows, error) {
	return export.SliceRows([][]any{{"year", e.Year}}), nil
}
func (e *storedReport) FilePath() string    { return fmt.Sprintf("reports/%d.csv", e.Year) }
func (e *storedReport) Disk() string        { return "archive" }
func (e *storedReport) ExporterKey() string { return "report" }
func (e *storedReport) DiskOptions() export.DiskOptions {
	return export.DiskOptions{export.OptionVisibility: disk.VisibilityPublic}
}

// headedExport declares headings and a file name.
type headedExport struct{}

func (headedExport) Rows(context.Context) (export.Rows, error) {
	return export.SliceRows([][]any{{1, "ada"}, {2, "grace"}}), nil
}
func (headedExport) Headings() []string { return []string{"id", "name"} }
func (headedExport) FileName() string   { return "people.csv" }

// brokenExport fails on its second row.
type brokenExport struct{}

func (brokenExport) Rows(context.Context) (export.Rows, error) {
	return export.SliceRows([][]any{{1, "ok"}, {2, make(chan int)}}), nil
}

// failingExport cannot open its rows.
type failingExport struct{}

func (failingExport) Rows(context.Context) (export.Rows, error) {
	return nil, errors.New("database unavailable")
}

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []*export.Job
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, job *export.Job) (*export.QueuedJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, job)
	return &export.QueuedJob{ID: job.ID, Job: job, State: export.JobSubmitted, SubmittedAt: time.Now()}, nil
}

type recordedExport struct {
	mode, format string
	rows         int
	err          error
}

type fakeRecorder struct {
	mu      sync.Mutex
	exports []recordedExport
}

func (f *fakeRecorder) RecordExport(mode, format string, rows int, bytes int64, duration time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports = append(f.exports, recordedExport{mode: mode, format: format, rows: rows, err: err})
}

type fixture struct {
	dispatcher *Dispatcher
	local      *disk.MemoryDisk
	archive    *disk.MemoryDisk
	jobs       *fakeSubmitter
	registry   *export.Registry
	metrics    *fakeRecorder
	tempDir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		local:    disk.NewMemoryDisk("local"),
		archive:  disk.NewMemoryDisk("archive"),
		jobs:     &fakeSubmitter{},
		registry: export.NewRegistry(),
		metrics:  &fakeRecorder{},
		tempDir:  t.TempDir(),
	}
	f.registry.MustRegister("report", func() export.Exporter { return &storedReport{} })

	f.dispatcher = New(&Config{TempDir: f.tempDir}, Deps{
		Disks:    disk.NewManager("local", f.local, f.archive),
		Jobs:     f.jobs,
		Registry: f.registry,
		Metrics:  f.metrics,
	})
	return f
}

func (f *fixture) assertNoSpool(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected spool files to be removed, found %d", len(entries))
	}
}

func TestDownload_SynthesisedName(t *testing.T) {
	tests := []struct {
		name   string
		cfg    *Config
		e      export.Exporter
		want   string
		format export.Format
	}{
		{name: "engine default", e: &UsersExport{Count: 2}, want: "users-export.xlsx", format: export.XLSX},
		{name: "configured default", cfg: &Config{DefaultFormat: export.JSON}, e: &UsersExport{}, want: "users-export.json", format: export.JSON},
		{name: "exporter default", e: csvHeadersExport{}, want: "csv-headers-export.csv", format: export.CSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.cfg, Deps{})
			resp, err := d.Download(context.Background(), tt.e, DownloadOptions{})
			if err != nil {
				t.Fatalf("Download() failed: %v", err)
			}
			defer resp.Close()

			if resp.Name != tt.want || resp.Format != tt.format {
				t.Errorf("got %q (%s), want %q (%s)", resp.Name, resp.Format, tt.want, tt.format)
			}
			if got := resp.Header.Get("Content-Disposition"); got != "attachment; filename="+tt.want {
				t.Errorf("unexpected disposition %q", got)
			}
		})
	}
}

func TestToResponse_DeclaredContentType(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/export", nil)

	resp, err := f.dispatcher.ToResponse(req, csvHeadersExport{})
	if err != nil {
		t.Fatalf("ToResponse() failed: %v", err)
	}
	defer resp.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/csv" {
		t.Errorf("expected text/csv, got %q", got)
	}
	if got := resp.Header.Get("X-Export"); got != "declared" {
		t.Errorf("expected declared header, got %q", got)
	}
}

func TestDownload_HeaderMerge(t *testing.T) {
	f := newFixture(t)

	resp, err := f.dispatcher.Download(context.Background(), csvHeadersExport{}, DownloadOptions{
		Name: "custom.csv",
		Headers: http.Header{
			"content-type":        {"application/octet-stream"},
			"X-Extra":             {"1"},
			"Content-Disposition": {"inline"},
		},
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	defer resp.Close()

	want := map[string]string{
		"Content-Type":        "application/octet-stream",
		"X-Export":            "declared",
		"X-Extra":             "1",
		"Content-Disposition": "attachment; filename=custom.csv",
	}
	for k, v := range want {
		if got := resp.Header.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if n := len(resp.Header.Values("Content-Type")); n != 1 {
		t.Errorf("expected a single Content-Type, got %d", n)
	}
}

func TestDownload_ContentTypeFromFormat(t *testing.T) {
	f := newFixture(t)

	for _, format := range export.Formats() {
		t.Run(string(format), func(t *testing.T) {
			resp, err := f.dispatcher.Download(context.Background(), &UsersExport{Count: 1}, DownloadOptions{Format: format})
			if err != nil {
				t.Fatalf("Download() failed: %v", err)
			}
			defer resp.Close()

			if got := resp.Header.Get("Content-Type"); got != format.ContentType() {
				t.Errorf("expected %q, got %q", format.ContentType(), got)
			}
		})
	}
}

func TestDownload_ExplicitFormatWins(t *testing.T) {
	f := newFixture(t)

	resp, err := f.dispatcher.Download(context.Background(), &UsersExport{Count: 3}, DownloadOptions{
		Name:   "x.csv",
		Format: export.XLSX,
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	defer resp.Close()

	if resp.Format != export.XLSX {
		t.Errorf("expected xlsx, got %s", resp.Format)
	}
	if resp.Name != "x.csv" {
		t.Errorf("expected explicit name verbatim, got %q", resp.Name)
	}

	wb, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatalf("body is not a workbook: %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows(wb.GetSheetName(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(rows))
	}
}

func TestDownload_UnknownFormat(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Download(context.Background(), &UsersExport{}, DownloadOptions{Format: "ods"})
	if !export.IsUnresolvedFormat(err) {
		t.Fatalf("expected UnresolvedFormatError, got %v", err)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", StatusCode(err))
	}
	f.assertNoSpool(t)
}

func TestDownload_EncodingErrorLeavesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Download(context.Background(), brokenExport{}, DownloadOptions{Format: export.CSV})
	var encErr *export.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if encErr.Row != 2 {
		t.Errorf("expected row 2, got %d", encErr.Row)
	}
	f.assertNoSpool(t)
}

func TestResponse_CloseRemovesSpool(t *testing.T) {
	f := newFixture(t)

	resp, err := f.dispatcher.Download(context.Background(), &UsersExport{Count: 1}, DownloadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := resp.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
	f.assertNoSpool(t)
}

func TestRaw_EmptyDatasetIsNonEmpty(t *testing.T) {
	f := newFixture(t)

	for _, format := range export.Formats() {
		t.Run(string(format), func(t *testing.T) {
			data, err := f.dispatcher.Raw(context.Background(), &UsersExport{}, format)
			if err != nil {
				t.Fatalf("Raw() failed: %v", err)
			}
			if len(data) == 0 {
				t.Error("expected non-empty document")
			}
		})
	}
}

func TestRaw_DeclaredFileNameAndHeadings(t *testing.T) {
	f := newFixture(t)

	data, err := f.dispatcher.Raw(context.Background(), headedExport{}, "")
	if err != nil {
		t.Fatalf("Raw() failed: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("expected csv from declared file name: %v", err)
	}
	if len(records) != 3 || records[0][0] != "id" || records[2][1] != "grace" {
		t.Errorf("unexpected records %v", records)
	}
}

func TestRaw_RowSourceError(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Raw(context.Background(), failingExport{}, export.CSV)
	if err == nil || !strings.Contains(err.Error(), "database unavailable") {
		t.Errorf("expected row source error, got %v", err)
	}
}

func TestStoreAndQueue_NoDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, storeErr := f.dispatcher.Store(ctx, &UsersExport{}, StoreOptions{})
	_, queueErr := f.dispatcher.Queue(ctx, &UsersExport{}, QueueOptions{})

	for name, err := range map[string]error{"store": storeErr, "queue": queueErr} {
		if !export.IsNoDestination(err) {
			t.Errorf("%s: expected NoDestinationError, got %v", name, err)
			continue
		}
		if err.Error() != "A filepath needs to be passed in order to store the export" {
			t.Errorf("%s: unexpected message %q", name, err.Error())
		}
	}

	if len(f.jobs.jobs) != 0 {
		t.Error("expected nothing to be submitted")
	}
}

func TestStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored, err := f.dispatcher.Store(ctx, &UsersExport{Count: 2}, StoreOptions{Path: "exports/users.csv"})
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if stored.Disk != "local" || stored.Path != "exports/users.csv" || stored.Format != export.CSV {
		t.Errorf("unexpected stored file %+v", stored)
	}

	rc, err := f.local.Open(ctx, "exports/users.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "1,user1@example.com\n2,user2@example.com\n" {
		t.Errorf("unexpected content %q", data)
	}
	f.assertNoSpool(t)
}

func TestStore_DeclaredDestination(t *testing.T) {
	f := newFixture(t)

	stored, err := f.dispatcher.Store(context.Background(), &storedReport{Year: 2024}, StoreOptions{})
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if stored.Disk != "archive" || stored.Path != "reports/2024.csv" {
		t.Errorf("unexpected stored file %+v", stored)
	}
	if v, _ := f.archive.Visibility("reports/2024.csv"); v != disk.VisibilityPublic {
		t.Errorf("expected declared disk options, got visibility %q", v)
	}

	// Per-call options win
	_, err = f.dispatcher.Store(context.Background(), &storedReport{Year: 2024}, StoreOptions{
		DiskOptions: export.DiskOptions{export.OptionVisibility: disk.VisibilityPrivate},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := f.archive.Visibility("reports/2024.csv"); v != disk.VisibilityPrivate {
		t.Errorf("expected per-call visibility, got %q", v)
	}
}

func TestStore_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown disk", func(t *testing.T) {
		_, err := f.dispatcher.Store(ctx, &UsersExport{}, StoreOptions{Path: "a.csv", Disk: "s3"})
		if !errors.Is(err, disk.ErrUnknownDisk) {
			t.Errorf("expected ErrUnknownDisk, got %v", err)
		}
	})

	t.Run("encoding error", func(t *testing.T) {
		_, err := f.dispatcher.Store(ctx, brokenExport{}, StoreOptions{Path: "broken.csv"})
		var encErr *export.EncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("expected EncodingError, got %v", err)
		}
		if ok, _ := f.local.Exists(ctx, "broken.csv"); ok {
			t.Error("expected no file at the destination")
		}
		f.assertNoSpool(t)
	})

	t.Run("unresolvable extension falls back", func(t *testing.T) {
		stored, err := f.dispatcher.Store(ctx, &UsersExport{}, StoreOptions{Path: "exports/users"})
		if err != nil {
			t.Fatal(err)
		}
		if stored.Format != export.XLSX {
			t.Errorf("expected engine default, got %s", stored.Format)
		}
	})
}

func TestQueue_SubmitAndRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued, err := f.dispatcher.Queue(ctx, &storedReport{Year: 2023}, QueueOptions{
		Chain: []export.ChainedJob{{Name: "notify"}},
	})
	if err != nil {
		t.Fatalf("Queue() failed: %v", err)
	}
	if queued.State != export.JobSubmitted || len(f.jobs.jobs) != 1 {
		t.Fatalf("expected one submitted job, got %+v", queued)
	}

	job := f.jobs.jobs[0]
	if job.ExporterKey != "report" || job.Path != "reports/2023.csv" || job.Disk != "archive" || job.Format != export.CSV {
		t.Errorf("unexpected job %+v", job)
	}
	if len(job.Chain) != 1 || job.Chain[0].Name != "notify" {
		t.Errorf("expected chain to be carried, got %v", job.Chain)
	}

	// Round-trip through the wire format as a worker would
	data, err := export.MarshalJob(job)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := export.UnmarshalJob(data)
	if err != nil {
		t.Fatal(err)
	}

	stored, err := f.dispatcher.RunJob(ctx, decoded)
	if err != nil {
		t.Fatalf("RunJob() failed: %v", err)
	}
	if stored.Path != "reports/2023.csv" {
		t.Errorf("unexpected stored path %q", stored.Path)
	}

	rc, err := f.archive.Open(ctx, "reports/2023.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	content, _ := io.ReadAll(rc)
	if string(content) != "year,2023\n" {
		t.Errorf("expected payload to reach the worker instance, got %q", content)
	}
}

func TestQueue_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unregistered exporter", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.dispatcher.Queue(ctx, &UsersExport{}, QueueOptions{Path: "u.csv"})
		var unreg *export.UnregisteredExporterError
		if !errors.As(err, &unreg) {
			t.Errorf("expected UnregisteredExporterError, got %v", err)
		}
		if len(f.jobs.jobs) != 0 {
			t.Error("expected nothing submitted")
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.dispatcher.Queue(ctx, &storedReport{}, QueueOptions{Format: "ods"})
		if !export.IsUnresolvedFormat(err) {
			t.Errorf("expected UnresolvedFormatError, got %v", err)
		}
	})

	t.Run("unknown disk", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.dispatcher.Queue(ctx, &storedReport{}, QueueOptions{Disk: "s3"})
		if !errors.Is(err, disk.ErrUnknownDisk) {
			t.Errorf("expected ErrUnknownDisk, got %v", err)
		}
		if len(f.jobs.jobs) != 0 {
			t.Error("expected nothing submitted")
		}
	})

	t.Run("no job system", func(t *testing.T) {
		d := New(nil, Deps{})
		_, err := d.Queue(ctx, &storedReport{}, QueueOptions{})
		if !errors.Is(err, ErrNoJobSystem) {
			t.Errorf("expected ErrNoJobSystem, got %v", err)
		}
	})

	t.Run("submitter failure", func(t *testing.T) {
		f := newFixture(t)
		f.jobs.err = errors.New("broker down")
		_, err := f.dispatcher.Queue(ctx, &storedReport{}, QueueOptions{})
		if err == nil || !strings.Contains(err.Error(), "broker down") {
			t.Errorf("expected submit error, got %v", err)
		}
	})

	t.Run("run unregistered job", func(t *testing.T) {
		f := newFixture(t)
		job := export.NewJob("missing", nil, "a.csv", "", export.CSV, nil, nil)
		_, err := f.dispatcher.RunJob(ctx, job)
		var unreg *export.UnregisteredExporterError
		if !errors.As(err, &unreg) {
			t.Errorf("expected UnregisteredExporterError, got %v", err)
		}
	})
}

func TestRespond(t *testing.T) {
	tests := []struct {
		name      string
		responder Responder
	}{
		{name: "file responder", responder: FileResponder{}},
		{name: "stream responder", responder: StreamResponder{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(&Config{TempDir: t.TempDir()}, Deps{Responder: tt.responder})

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/people", nil)
			if err := d.Respond(rec, req, headedExport{}); err != nil {
				t.Fatalf("Respond() failed: %v", err)
			}

			if rec.Code != http.StatusOK {
				t.Errorf("expected 200, got %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=people.csv" {
				t.Errorf("unexpected disposition %q", got)
			}
			if rec.Body.String() != "id,name\n1,ada\n2,grace\n" {
				t.Errorf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestHandler(t *testing.T) {
	d := New(&Config{TempDir: t.TempDir()}, Deps{})

	t.Run("range request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/people", nil)
		req.Header.Set("Range", "bytes=0-6")
		d.Handler(headedExport{}).ServeHTTP(rec, req)

		if rec.Code != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", rec.Code)
		}
		if rec.Body.String() != "id,name" {
			t.Errorf("unexpected partial body %q", rec.Body.String())
		}
	})

	t.Run("row source error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		d.Handler(failingExport{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if rec.Header().Get("Content-Disposition") != "" {
			t.Error("expected no attachment headers on failure")
		}
	})
}

func TestStream(t *testing.T) {
	ctx := context.Background()

	t.Run("encodes into the response", func(t *testing.T) {
		d := New(nil, Deps{})
		rec := httptest.NewRecorder()

		err := d.Stream(ctx, rec, &UsersExport{Count: 2}, DownloadOptions{Name: "users.json"})
		if err != nil {
			t.Fatalf("Stream() failed: %v", err)
		}
		if got := rec.Header().Get("Content-Type"); got != export.JSON.ContentType() {
			t.Errorf("unexpected content type %q", got)
		}
		if !strings.HasPrefix(rec.Body.String(), "[") || !strings.Contains(rec.Body.String(), "user2@example.com") {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
	})

	t.Run("per-call headers win", func(t *testing.T) {
		d := New(nil, Deps{})
		rec := httptest.NewRecorder()

		err := d.Stream(ctx, rec, csvHeadersExport{}, DownloadOptions{Headers: http.Header{
			"content-type":        {"text/plain; charset=utf-8"},
			"Content-Disposition": {"inline; filename=evil.sh"},
		}})
		if err != nil {
			t.Fatalf("Stream() failed: %v", err)
		}
		if got := rec.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
			t.Errorf("expected per-call content type, got %q", got)
		}
		if got := rec.Header().Get("X-Export"); got != "declared" {
			t.Errorf("expected declared header to survive, got %q", got)
		}
		if got := rec.Header().Get("Content-Disposition"); got != Disposition("csv-headers-export.csv") {
			t.Errorf("expected computed disposition, got %q", got)
		}
		if rec.Body.String() != "a,1\n" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
	})

	// A failure before the first byte leaves the response uncommitted, so the
	// caller can still write an error status.
	uncommitted := []struct {
		name string
		e    export.Exporter
		opts DownloadOptions
	}{
		{name: "rows fail to open", e: failingExport{}, opts: DownloadOptions{Name: "x.csv"}},
		{name: "xlsx encoding error", e: brokenExport{}, opts: DownloadOptions{Name: "x.xlsx"}},
		{name: "csv error inside first chunk", e: brokenExport{}, opts: DownloadOptions{Name: "x.csv"}},
	}
	for _, tt := range uncommitted {
		t.Run(tt.name, func(t *testing.T) {
			d := New(nil, Deps{})
			rec := httptest.NewRecorder()

			err := d.Stream(ctx, rec, tt.e, tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrStreamAborted) {
				t.Errorf("expected failure before commit, got %v", err)
			}
			if got := rec.Header().Get("Content-Disposition"); got != "" {
				t.Errorf("expected no disposition, got %q", got)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("expected empty body, got %q", rec.Body.String())
			}

			http.Error(rec, err.Error(), StatusCode(err))
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("expected error status to be writable, got %d", rec.Code)
			}
		})
	}

	t.Run("failure after commit", func(t *testing.T) {
		d := New(&Config{Writer: writer.New(&writer.Config{ChunkSize: 1})}, Deps{})
		rec := httptest.NewRecorder()

		err := d.Stream(ctx, rec, brokenExport{}, DownloadOptions{Name: "x.csv"})
		if !errors.Is(err, ErrStreamAborted) {
			t.Fatalf("expected ErrStreamAborted, got %v", err)
		}
		var encErr *export.EncodingError
		if !errors.As(err, &encErr) || encErr.Row != 2 {
			t.Errorf("expected encoding error at row 2, got %v", err)
		}
		if rec.Code != http.StatusOK || rec.Body.String() != "1,ok\n" {
			t.Errorf("expected committed partial body, got %d %q", rec.Code, rec.Body.String())
		}
	})
}

func TestMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dispatcher.Raw(ctx, &UsersExport{Count: 4}, export.CSV)
	f.dispatcher.Store(ctx, &UsersExport{}, StoreOptions{})

	if len(f.metrics.exports) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(f.metrics.exports))
	}
	raw := f.metrics.exports[0]
	if raw.mode != ModeRaw || raw.format != "csv" || raw.rows != 4 || raw.err != nil {
		t.Errorf("unexpected raw observation %+v", raw)
	}
	store := f.metrics.exports[1]
	if store.mode != ModeStore || !export.IsNoDestination(store.err) {
		t.Errorf("unexpected store observation %+v", store)
	}
}

func TestSpansRecorded(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := tracing.NewWithExporter(&config.TracingConfig{Sampler: tracing.SamplerAlways}, "test", exporter)
	if err != nil {
		t.Fatal(err)
	}
	defer tracer.Shutdown(context.Background())

	d := New(&Config{TempDir: t.TempDir()}, Deps{
		Disks:  disk.NewManager("local", disk.NewMemoryDisk("local")),
		Tracer: tracer,
	})
	ctx := context.Background()

	if _, err := d.Store(ctx, &UsersExport{Count: 3}, StoreOptions{Path: "users.csv"}); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	d.Raw(ctx, &UsersExport{}, "pdf")

	tracer.ForceFlush(ctx)
	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	store := spans[0]
	if store.Name != "export.store" || store.Status.Code != codes.Ok {
		t.Errorf("unexpected store span %s (%v)", store.Name, store.Status)
	}
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range store.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if attrs[tracing.AttrFormat].AsString() != "csv" ||
		attrs[tracing.AttrRows].AsInt64() != 3 ||
		attrs[tracing.AttrPath].AsString() != "users.csv" {
		t.Errorf("unexpected store span attributes %v", store.Attributes)
	}

	raw := spans[1]
	if raw.Name != "export.raw" || raw.Status.Code != codes.Error {
		t.Errorf("unexpected raw span %s (%v)", raw.Name, raw.Status)
	}
}

func TestConcurrentDownloads(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := f.dispatcher.Download(context.Background(), &UsersExport{Count: n}, DownloadOptions{Format: export.CSV})
			if err != nil {
				t.Errorf("Download() failed: %v", err)
				return
			}
			defer resp.Close()
			if resp.Rows != n {
				t.Errorf("expected %d rows, got %d", n, resp.Rows)
			}
		}(i * 10)
	}
	wg.Wait()
	f.assertNoSpool(t)
}
