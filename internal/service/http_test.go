package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/meta-clean/internal/cleanerr"
)

type stubCleanService struct {
	manifest  *JobManifest
	prepErr   error
	result    *Result
	runErr    error
	discarded []string
}

func (s *stubCleanService) PrepareCleanJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	return s.manifest, s.prepErr
}

func (s *stubCleanService) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	return s.result, s.runErr
}

func (s *stubCleanService) DiscardJob(jobID string) error {
	s.discarded = append(s.discarded, jobID)
	return nil
}

type stubScheduler struct {
	jobIDs []string
	err    error
}

func (s *stubScheduler) Schedule(ctx context.Context, jobID string) error {
	s.jobIDs = append(s.jobIDs, jobID)
	return s.err
}

func newUploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if field != "" {
		fileWriter, err := writer.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := io.Copy(fileWriter, bytes.NewReader(content)); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/clean", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serveClean(svc CleanService, opts HandlerOptions, req *http.Request) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/clean", CleanHandler(svc, opts))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return payload["code"]
}

func TestCleanHandlerSuccess(t *testing.T) {
	jobDir := filepath.Join(t.TempDir(), "job")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatalf("failed to create jobDir: %v", err)
	}

	outputPath := filepath.Join(jobDir, "doc_meta_clean.pdf")
	pdfData := []byte("%PDF-1.4\n% cleaned\n")
	if err := os.WriteFile(outputPath, pdfData, 0o640); err != nil {
		t.Fatalf("failed to create output file: %v", err)
	}

	svc := &stubCleanService{
		manifest: &JobManifest{JobID: "job-123", File: JobFile{Size: 10}},
		result: &Result{
			JobID:          "job-123",
			OutputPath:     outputPath,
			OutputFilename: "doc_meta_clean.pdf",
			OutputSize:     int64(len(pdfData)),
			ContentType:    "application/pdf",
			jobDir:         jobDir,
		},
	}

	rec := serveClean(svc, HandlerOptions{}, newUploadRequest(t, "file", "doc.pdf", []byte("dummy")))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content-type: %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd == "" {
		t.Fatal("expected Content-Disposition header")
	}
	if rec.Header().Get("X-Job-Id") != "job-123" {
		t.Fatalf("unexpected X-Job-Id header: %s", rec.Header().Get("X-Job-Id"))
	}
	if !bytes.Equal(rec.Body.Bytes(), pdfData) {
		t.Fatalf("unexpected response body: %q", rec.Body.Bytes())
	}
	if _, err := os.Stat(jobDir); !os.IsNotExist(err) {
		t.Fatalf("expected jobDir to be removed, stat err=%v", err)
	}
}

func TestCleanHandlerMissingFile(t *testing.T) {
	rec := serveClean(&stubCleanService{}, HandlerOptions{}, newUploadRequest(t, "", "", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeCode(t, rec); code != "INVALID_INPUT" {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestCleanHandlerErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		prepErr    error
		runErr     error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "limit exceeded",
			prepErr:    newError("LIMIT_EXCEEDED", "サイズ上限を超えています", nil),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "LIMIT_EXCEEDED",
		},
		{
			name:       "unsupported upload",
			prepErr:    newError("UNSUPPORTED_FORMAT", "対応していません", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   "UNSUPPORTED_FORMAT",
		},
		{
			name:       "corrupt pdf",
			runErr:     cleanerr.New(cleanerr.CodeCorruptOrProtectedPDF, "in.pdf", "out.pdf", "corrupt", nil),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "CORRUPT_OR_PROTECTED_PDF",
		},
		{
			name:       "broken package",
			runErr:     cleanerr.New(cleanerr.CodePackageOpen, "in.docx", "out.docx", "broken", nil),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "PACKAGE_OPEN",
		},
		{
			name:       "write exhausted",
			runErr:     cleanerr.New(cleanerr.CodePDFWriteExhausted, "in.pdf", "out.pdf", "locked", nil),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "PDF_WRITE_EXHAUSTED",
		},
		{
			name:       "unexpected",
			runErr:     errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubCleanService{
				manifest: &JobManifest{JobID: "job-1"},
				prepErr:  tt.prepErr,
				runErr:   tt.runErr,
			}
			rec := serveClean(svc, HandlerOptions{}, newUploadRequest(t, "file", "in.pdf", []byte("dummy")))

			if rec.Code != tt.wantStatus {
				t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
			}
			if code := decodeCode(t, rec); code != tt.wantCode {
				t.Fatalf("unexpected code: %s", code)
			}
		})
	}
}

func TestCleanHandlerQueuesLargeUploads(t *testing.T) {
	scheduler := &stubScheduler{}
	svc := &stubCleanService{
		manifest: &JobManifest{JobID: "job-big", File: JobFile{Size: 2048}},
	}

	rec := serveClean(svc, HandlerOptions{Scheduler: scheduler, AsyncThresholdBytes: 1024},
		newUploadRequest(t, "file", "big.docx", []byte("dummy")))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["jobId"] != "job-big" {
		t.Fatalf("unexpected jobId: %s", payload["jobId"])
	}
	if len(scheduler.jobIDs) != 1 || scheduler.jobIDs[0] != "job-big" {
		t.Fatalf("unexpected scheduled jobs: %#v", scheduler.jobIDs)
	}
}

func TestCleanHandlerDiscardsJobWhenQueueFails(t *testing.T) {
	scheduler := &stubScheduler{err: errors.New("redis down")}
	svc := &stubCleanService{
		manifest: &JobManifest{JobID: "job-big", File: JobFile{Size: 2048}},
	}

	rec := serveClean(svc, HandlerOptions{Scheduler: scheduler, AsyncThresholdBytes: 1024},
		newUploadRequest(t, "file", "big.docx", []byte("dummy")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(svc.discarded) != 1 || svc.discarded[0] != "job-big" {
		t.Fatalf("expected job to be discarded, got %#v", svc.discarded)
	}
}

type stubOpener struct {
	err error
}

func (s stubOpener) OpenResultFile(jobID string) (*Result, *os.File, error) {
	return nil, nil, s.err
}

func TestJobDownloadHandlerNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/jobs/:id/download", JobDownloadHandler(stubOpener{err: fs.ErrNotExist}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/nope/download", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeCode(t, rec); code != "JOB_RESULT_NOT_FOUND" {
		t.Fatalf("unexpected code: %s", code)
	}
}
