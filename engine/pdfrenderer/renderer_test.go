package pdfrenderer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeRunner records every invocation and delegates to run
type fakeRunner struct {
	mu      sync.Mutex
	spawned []Invocation
	run     func(ctx context.Context, inv Invocation) (Output, error)
}

func (f *fakeRunner) Run(ctx context.Context, inv Invocation) (Output, error) {
	f.mu.Lock()
	f.spawned = append(f.spawned, inv)
	f.mu.Unlock()
	return f.run(ctx, inv)
}

func (f *fakeRunner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

func (f *fakeRunner) spawnedPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := make([]int, len(f.spawned))
	for i, inv := range f.spawned {
		pages[i] = inv.Page
	}
	return pages
}

// argPage reads the page number out of the -f flag
func argPage(t *testing.T, args []string) int {
	t.Helper()
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-f" {
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				t.Errorf("bad -f value %q", args[i+1])
			}
			return n
		}
	}
	t.Errorf("no -f flag in %v", args)
	return 0
}

// pagePNG encodes a small image whose pixels identify the page
func pagePNG(t *testing.T, page int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(page*10 + x + y)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func samePixels(a, b image.Image) bool {
	if a.Bounds() != b.Bounds() {
		return false
	}
	r := a.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			r1, g1, b1, a1 := a.At(x, y).RGBA()
			r2, g2, b2, a2 := b.At(x, y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return false
			}
		}
	}
	return true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pngRunner answers every render invocation with the page's PNG, finishing
// later pages first so completion order is the reverse of launch order
func pngRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		page := argPage(t, inv.Args)
		select {
		case <-time.After(time.Duration(20-page) * time.Millisecond):
		case <-ctx.Done():
			return Output{}, ctx.Err()
		}
		return Output{Stdout: pagePNG(t, page)}, nil
	}}
}

func newTestRenderer(t *testing.T, runner Runner, opts ...Option) (*Renderer, string) {
	t.Helper()
	tempDir := t.TempDir()
	opts = append([]Option{WithRunner(runner), WithTempDir(tempDir), WithLogger(testLogger())}, opts...)
	return NewRenderer(Tools{}, opts...), tempDir
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected temp dir to be empty, found %d entries (first: %s)", len(entries), entries[0].Name())
	}
}

func defaultOptions(t *testing.T, opts ...RenderOption) RenderOptions {
	t.Helper()
	o, err := NewRenderOptions(opts...)
	if err != nil {
		t.Fatalf("Failed to build render options: %v", err)
	}
	return o
}

var eightPages = PdfInfo{PageCount: 8}

func TestRenderMultiPage_OrderedRegardlessOfCompletion(t *testing.T) {
	ranges := []struct{ first, last int }{{1, 8}, {3, 5}, {8, 8}, {1, 1}}
	for _, rg := range ranges {
		t.Run(PageRange(rg.first, rg.last).String(), func(t *testing.T) {
			runner := pngRunner(t)
			r, tempDir := newTestRenderer(t, runner, WithMaxConcurrency(8))

			pages, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, PageRange(rg.first, rg.last), defaultOptions(t))
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(pages) != rg.last-rg.first+1 {
				t.Fatalf("Expected %d pages, got %d", rg.last-rg.first+1, len(pages))
			}
			for i, p := range pages {
				want := rg.first + i
				if p.Page != want {
					t.Errorf("Position %d: expected page %d, got %d", i, want, p.Page)
				}
				expected, err := png.Decode(bytes.NewReader(pagePNG(t, want)))
				if err != nil {
					t.Fatal(err)
				}
				if !samePixels(p.Image, expected) {
					t.Errorf("Page %d: image does not match the tool output for that page", want)
				}
			}
			assertTempDirEmpty(t, tempDir)
		})
	}
}

func TestRenderSinglePage_MatchesMultiPage(t *testing.T) {
	r, _ := newTestRenderer(t, pngRunner(t))
	opts := defaultOptions(t, WithDPI(150))

	for page := 1; page <= eightPages.PageCount; page++ {
		single, err := r.RenderSinglePage(context.Background(), []byte("%PDF"), eightPages, page, opts)
		if err != nil {
			t.Fatalf("Single page %d: %v", page, err)
		}
		multi, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, PageRange(page, page), opts)
		if err != nil {
			t.Fatalf("Multi page %d: %v", page, err)
		}
		if len(multi) != 1 {
			t.Fatalf("Expected 1 image, got %d", len(multi))
		}
		if single.Page != multi[0].Page || !samePixels(single.Image, multi[0].Image) {
			t.Errorf("Page %d: single and multi page renders differ", page)
		}
	}
}

func TestRenderMultiPage_InvalidRangeSpawnsNothing(t *testing.T) {
	runner := pngRunner(t)
	r, tempDir := newTestRenderer(t, runner)

	_, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, PageRange(5, 2), defaultOptions(t))
	if !errors.Is(err, ErrInvalidPageRange) {
		t.Fatalf("Expected ErrInvalidPageRange, got: %v", err)
	}
	var rangeErr *InvalidPageRangeError
	if !errors.As(err, &rangeErr) || rangeErr.First != 5 || rangeErr.Last != 2 {
		t.Errorf("Expected InvalidPageRangeError{5, 2}, got: %#v", err)
	}
	if n := runner.spawnCount(); n != 0 {
		t.Errorf("Expected no subprocesses, got %d", n)
	}
	assertTempDirEmpty(t, tempDir)
}

func TestRender_PageOutOfBoundsSpawnsNothing(t *testing.T) {
	runner := pngRunner(t)
	r, _ := newTestRenderer(t, runner)
	opts := defaultOptions(t)

	_, err := r.RenderSinglePage(context.Background(), []byte("%PDF"), eightPages, 9, opts)
	if !errors.Is(err, ErrPageOutOfBounds) {
		t.Errorf("Single page: expected ErrPageOutOfBounds, got: %v", err)
	}
	_, err = r.RenderSinglePage(context.Background(), []byte("%PDF"), eightPages, 0, opts)
	if !errors.Is(err, ErrPageOutOfBounds) {
		t.Errorf("Page zero: expected ErrPageOutOfBounds, got: %v", err)
	}
	_, err = r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, PageRange(7, 9), opts)
	if !errors.Is(err, ErrPageOutOfBounds) {
		t.Errorf("Range: expected ErrPageOutOfBounds, got: %v", err)
	}
	_, err = r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, SpecificPages(2, 12), opts)
	if !errors.Is(err, ErrPageOutOfBounds) {
		t.Errorf("Specific: expected ErrPageOutOfBounds, got: %v", err)
	}
	if n := runner.spawnCount(); n != 0 {
		t.Errorf("Expected no subprocesses, got %d", n)
	}
}

func TestRenderMultiPage_FailFastCancelsSiblings(t *testing.T) {
	const total = 5
	const failing = 3

	started := make(chan struct{}, total)
	var cancelled atomic.Int32
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		if inv.Page == failing {
			// fail only once every sibling is running
			for i := 0; i < total-1; i++ {
				<-started
			}
			return Output{}, &ToolExecutionError{Tool: inv.Tool, ExitCode: 1, Stderr: "Syntax Error: broken page"}
		}
		started <- struct{}{}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return Output{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return Output{Stdout: pagePNG(t, inv.Page)}, nil
		}
	}}
	r, tempDir := newTestRenderer(t, runner, WithMaxConcurrency(total))

	pages, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, PageRange(1, total), defaultOptions(t))
	if err == nil {
		t.Fatal("Expected an error, got nil")
	}
	if pages != nil {
		t.Errorf("Expected no partial result, got %d pages", len(pages))
	}
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Expected ToolExecutionError, got: %v", err)
	}
	if execErr.ExitCode != 1 || execErr.Stderr != "Syntax Error: broken page" {
		t.Errorf("Unexpected error details: %+v", execErr)
	}
	if got := cancelled.Load(); got != total-1 {
		t.Errorf("Expected %d siblings to observe cancellation, got %d", total-1, got)
	}
	assertTempDirEmpty(t, tempDir)
}

func TestRenderMultiPage_NoLaunchAfterFailure(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		if inv.Page == 2 {
			return Output{}, &ToolExecutionError{Tool: inv.Tool, ExitCode: 99}
		}
		return Output{Stdout: pagePNG(t, inv.Page)}, nil
	}}
	r, _ := newTestRenderer(t, runner, WithMaxConcurrency(1))

	_, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, AllPages(), defaultOptions(t))
	if err == nil {
		t.Fatal("Expected an error, got nil")
	}
	if diff := cmp.Diff([]int{1, 2}, runner.spawnedPages()); diff != "" {
		t.Errorf("Spawned pages mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderMultiPage_ConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return Output{Stdout: pagePNG(t, inv.Page)}, nil
	}}
	r, _ := newTestRenderer(t, runner, WithMaxConcurrency(2))

	pages, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, AllPages(), defaultOptions(t))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(pages) != 8 {
		t.Errorf("Expected 8 pages, got %d", len(pages))
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("Expected at most 2 concurrent processes, saw %d", got)
	}
}

func TestRenderMultiPage_LaunchOrderAscending(t *testing.T) {
	runner := pngRunner(t)
	r, _ := newTestRenderer(t, runner, WithMaxConcurrency(1))

	_, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, SpecificPages(6, 2, 4, 2), defaultOptions(t))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if diff := cmp.Diff([]int{2, 4, 6}, runner.spawnedPages()); diff != "" {
		t.Errorf("Launch order mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderMultiPage_DecodeFailure(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		if inv.Page == 2 {
			return Output{Stdout: []byte("not a png")}, nil
		}
		return Output{Stdout: pagePNG(t, inv.Page)}, nil
	}}
	r, tempDir := newTestRenderer(t, runner)

	pages, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, PageRange(1, 3), defaultOptions(t))
	var decodeErr *ImageDecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected ImageDecodeError, got: %v", err)
	}
	if decodeErr.Page != 2 {
		t.Errorf("Expected decode error for page 2, got page %d", decodeErr.Page)
	}
	if pages != nil {
		t.Errorf("Expected no partial result, got %d pages", len(pages))
	}
	assertTempDirEmpty(t, tempDir)
}

func TestRenderMultiPage_DecodeFailureCancelsSiblings(t *testing.T) {
	var finished atomic.Int32
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		if inv.Page == 2 {
			return Output{Stdout: []byte("not a png")}, nil
		}
		select {
		case <-ctx.Done():
			return Output{}, ctx.Err()
		case <-time.After(5 * time.Second):
			finished.Add(1)
			return Output{Stdout: pagePNG(t, inv.Page)}, nil
		}
	}}
	r, tempDir := newTestRenderer(t, runner, WithMaxConcurrency(3))

	start := time.Now()
	_, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), eightPages, PageRange(1, 3), defaultOptions(t))
	var decodeErr *ImageDecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Page != 2 {
		t.Fatalf("Expected ImageDecodeError for page 2, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Expected siblings to be cancelled promptly, took %v", elapsed)
	}
	if got := finished.Load(); got != 0 {
		t.Errorf("Expected no sibling to run to completion, %d did", got)
	}
	assertTempDirEmpty(t, tempDir)
}

func TestRenderMultiPage_ExternalCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	running := make(chan struct{}, 8)
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		running <- struct{}{}
		<-ctx.Done()
		return Output{}, ctx.Err()
	}}
	r, tempDir := newTestRenderer(t, runner, WithMaxConcurrency(8))

	go func() {
		<-running
		cancel()
	}()
	_, err := r.RenderMultiPage(ctx, []byte("%PDF"), eightPages, AllPages(), defaultOptions(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	assertTempDirEmpty(t, tempDir)
}

func TestRender_TempInputVisibleToTools(t *testing.T) {
	source := []byte("%PDF-1.7 sample")
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		input := inv.Args[len(inv.Args)-1]
		data, err := os.ReadFile(input)
		if err != nil {
			return Output{}, err
		}
		if !bytes.Equal(data, source) {
			t.Errorf("Tool saw %q, expected %q", data, source)
		}
		return Output{Stdout: pagePNG(t, inv.Page)}, nil
	}}
	r, tempDir := newTestRenderer(t, runner)

	if _, err := r.RenderMultiPage(context.Background(), source, eightPages, PageRange(1, 4), defaultOptions(t)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	assertTempDirEmpty(t, tempDir)
}

func TestRender_EncryptedWithoutPassword(t *testing.T) {
	runner := pngRunner(t)
	r, _ := newTestRenderer(t, runner)
	info := PdfInfo{PageCount: 2, Encrypted: true}

	_, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), info, AllPages(), defaultOptions(t))
	if !errors.Is(err, ErrNoPasswordForEncryptedPDF) {
		t.Errorf("Expected ErrNoPasswordForEncryptedPDF, got: %v", err)
	}
	_, err = r.RenderSinglePage(context.Background(), []byte("%PDF"), info, 1, defaultOptions(t))
	if !errors.Is(err, ErrNoPasswordForEncryptedPDF) {
		t.Errorf("Expected ErrNoPasswordForEncryptedPDF, got: %v", err)
	}
	if runner.spawnCount() != 0 {
		t.Errorf("Expected no subprocesses, got %d", runner.spawnCount())
	}

	pages, err := r.RenderMultiPage(context.Background(), []byte("%PDF"), info, AllPages(), defaultOptions(t, WithUserPassword("secret")))
	if err != nil {
		t.Fatalf("Expected no error with password, got: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("Expected 2 pages, got %d", len(pages))
	}
}

func TestRenderSinglePage_ToolFailure(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		return Output{}, &ToolNotFoundError{Path: inv.Path, Err: errors.New("executable file not found in $PATH")}
	}}
	r, tempDir := newTestRenderer(t, runner)

	_, err := r.RenderSinglePage(context.Background(), []byte("%PDF"), eightPages, 1, defaultOptions(t, WithPdftocairo(true)))
	var notFound *ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected ToolNotFoundError, got: %v", err)
	}
	if notFound.Path != ToolPdftocairo && notFound.Path != ToolPdftocairo+".exe" {
		t.Errorf("Expected pdftocairo path, got %q", notFound.Path)
	}
	assertTempDirEmpty(t, tempDir)
}

const samplePdfinfo = `Title:           Ropes
Producer:        pdfTeX-1.40.25
CreationDate:    Mon Jan  8 10:12:44 2024 CET
Custom Metadata: no
Metadata Stream: yes
Tagged:          no
UserProperties:  no
Suspects:        no
Form:            none
JavaScript:      no
Pages:           8
Encrypted:       no
Page size:       595.276 x 841.89 pts (A4)
Page rot:        0
File size:       184306 bytes
Optimized:       no
PDF version:     1.5
`

func TestQueryInfo(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   PdfInfo
	}{
		{
			name:   "Unencrypted sample",
			output: samplePdfinfo,
			want:   PdfInfo{PageCount: 8, Encrypted: false},
		},
		{
			name:   "Encrypted sample",
			output: "Pages:           3\nEncrypted:       yes (print:yes copy:no change:no addNotes:no algorithm:AES-256)\n",
			want:   PdfInfo{PageCount: 3, Encrypted: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
				if inv.Tool != ToolPdfinfo {
					t.Errorf("Expected pdfinfo, got %s", inv.Tool)
				}
				return Output{Stdout: []byte(tt.output)}, nil
			}}
			r, tempDir := newTestRenderer(t, runner)

			info, err := r.QueryInfo(context.Background(), []byte("%PDF"))
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if diff := cmp.Diff(tt.want, info); diff != "" {
				t.Errorf("PdfInfo mismatch (-want +got):\n%s", diff)
			}
			assertTempDirEmpty(t, tempDir)
		})
	}
}

func TestQueryInfo_PasswordPassedToTool(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		return Output{Stdout: []byte(samplePdfinfo)}, nil
	}}
	r, _ := newTestRenderer(t, runner)

	_, err := r.QueryInfo(context.Background(), []byte("%PDF"), WithInfoPassword(Password{Kind: OwnerPassword, Value: "owner"}))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	args := runner.spawned[0].Args
	if diff := cmp.Diff([]string{"-opw", "owner"}, args[:2]); diff != "" {
		t.Errorf("Password args mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryInfo_ParseError(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		return Output{Stdout: []byte("Title: nothing useful\n")}, nil
	}}
	r, tempDir := newTestRenderer(t, runner)

	_, err := r.QueryInfo(context.Background(), []byte("%PDF"))
	var parseErr *InfoParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected InfoParseError, got: %v", err)
	}
	if parseErr.Output != "Title: nothing useful\n" {
		t.Errorf("Expected raw output to be kept, got %q", parseErr.Output)
	}
	assertTempDirEmpty(t, tempDir)
}

func TestExtractText(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, inv Invocation) (Output, error) {
		page := argPage(t, inv.Args)
		time.Sleep(time.Duration(10-page) * time.Millisecond)
		return Output{Stdout: []byte("text of page " + strconv.Itoa(page))}, nil
	}}
	r, tempDir := newTestRenderer(t, runner)

	texts, err := r.ExtractText(context.Background(), []byte("%PDF"), eightPages, PageRange(2, 4), WithLayout(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []PageText{
		{Page: 2, Text: "text of page 2"},
		{Page: 3, Text: "text of page 3"},
		{Page: 4, Text: "text of page 4"},
	}
	if diff := cmp.Diff(want, texts); diff != "" {
		t.Errorf("Text mismatch (-want +got):\n%s", diff)
	}
	for _, inv := range runner.spawned {
		if inv.Tool != ToolPdftotext {
			t.Errorf("Expected pdftotext, got %s", inv.Tool)
		}
	}
	assertTempDirEmpty(t, tempDir)
}
