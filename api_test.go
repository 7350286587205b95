package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/drummonds/pdf2image/config"
	engine "github.com/drummonds/pdf2image/engine"
	"github.com/drummonds/pdf2image/engine/pdfrenderer"
	"github.com/labstack/echo/v4"
)

// stubPoppler serves a five page document and tracks how many
// rasterizer processes are alive at once.
type stubPoppler struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (s *stubPoppler) Run(ctx context.Context, inv pdfrenderer.Invocation) (pdfrenderer.Output, error) {
	if inv.Tool == pdfrenderer.ToolPdfinfo {
		return pdfrenderer.Output{Stdout: []byte("Pages: 5\nEncrypted: no\n")}, nil
	}
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return pdfrenderer.Output{}, ctx.Err()
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		return pdfrenderer.Output{}, err
	}
	return pdfrenderer.Output{Stdout: buf.Bytes()}, nil
}

// setupTestServer creates a test server with all routes configured
func setupTestServer(t *testing.T, runner pdfrenderer.Runner) *echo.Echo {
	t.Helper()
	injectGlobals(slog.New(slog.NewTextHandler(io.Discard, nil)))

	serverConfig := config.ServerConfig{
		MaxConcurrency: 3,
		TempDir:        t.TempDir(),
		MaxUploadMB:    4,
	}
	e := newEcho(serverConfig)
	serverHandler := engine.NewServerHandler(e, serverConfig, pdfrenderer.WithRunner(runner))
	serverHandler.RegisterRoutes()
	return e
}

func renderRequest(t *testing.T, pages string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("pages", pages)
	part, err := writer.CreateFormFile("pdf", "doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("%PDF-1.4"))
	writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/pdf/render", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUnknownEndpointReturnsJSON(t *testing.T) {
	e := setupTestServer(t, &stubPoppler{})

	req := httptest.NewRequest(http.MethodGet, "/api/does-not-exist", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		t.Errorf("Expected JSON content type, got %s", rec.Header().Get("Content-Type"))
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["path"] != "/api/does-not-exist" {
		t.Errorf("Expected path in body, got %v", body)
	}
}

func TestRenderRespectsConcurrencyLimit(t *testing.T) {
	stub := &stubPoppler{}
	e := setupTestServer(t, stub)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, renderRequest(t, "all"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp engine.RenderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Pages) != 5 {
		t.Fatalf("Expected 5 pages, got %d", len(resp.Pages))
	}
	if peak := stub.peak.Load(); peak > 3 {
		t.Errorf("Expected at most 3 concurrent processes, saw %d", peak)
	}
}

func TestConcurrentRequests(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrent test in short mode")
	}

	e := setupTestServer(t, &stubPoppler{})

	concurrency := 8
	done := make(chan bool, concurrency)
	errors := make(chan error, concurrency)

	requests := make([]*http.Request, concurrency)
	for i := range requests {
		requests[i] = renderRequest(t, fmt.Sprintf("%d", i%5+1))
	}

	for i := 0; i < concurrency; i++ {
		go func(id int) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, requests[id])

			if rec.Code != http.StatusOK {
				errors <- fmt.Errorf("concurrent request %d failed with status %d", id, rec.Code)
			}
			done <- true
		}(i)
	}

	// Wait for all requests
	for i := 0; i < concurrency; i++ {
		<-done
	}

	close(errors)
	for err := range errors {
		t.Error(err)
	}
}

func TestIsAddressInUse(t *testing.T) {
	if isAddressInUse(nil) {
		t.Error("nil error should not be address in use")
	}
	if !isAddressInUse(fmt.Errorf("listen tcp :8000: bind: address already in use")) {
		t.Error("Expected address in use to be detected")
	}
}
