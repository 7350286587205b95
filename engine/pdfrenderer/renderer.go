package pdfrenderer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds simultaneous tool processes in one batch
const DefaultMaxConcurrency = 4

// batchState names the phases of a multi-page call in the logs
type batchState string

const (
	stateValidating  batchState = "validating"
	stateLaunching   batchState = "launching"
	stateAwaitingAll batchState = "awaiting"
	stateCollecting  batchState = "collecting"
	stateDone        batchState = "done"
	stateAborting    batchState = "aborting"
	stateFailed      batchState = "failed"
)

// Renderer converts PDF bytes to images by driving the poppler tools.
// A Renderer holds no per-call state and is safe for concurrent use.
type Renderer struct {
	tools          Tools
	runner         Runner
	maxConcurrency int
	tempDir        string
	logger         *slog.Logger
}

// Option configures a Renderer
type Option func(*Renderer)

// WithRunner replaces the process runner (tests use this to stub the tools)
func WithRunner(runner Runner) Option {
	return func(r *Renderer) { r.runner = runner }
}

// WithMaxConcurrency bounds the number of processes a multi-page call runs at once
func WithMaxConcurrency(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

// WithTempDir sets the parent directory for per-call temp files
func WithTempDir(dir string) Option {
	return func(r *Renderer) { r.tempDir = dir }
}

// WithLogger sets the logger; slog.Default() is used otherwise
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRenderer creates a Renderer that resolves executables through tools
func NewRenderer(tools Tools, opts ...Option) *Renderer {
	r := &Renderer{
		tools:          tools,
		runner:         ExecRunner{},
		maxConcurrency: DefaultMaxConcurrency,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tools returns the tool locations this renderer was built with
func (r *Renderer) Tools() Tools { return r.tools }

// MaxConcurrency returns the per-batch process limit
func (r *Renderer) MaxConcurrency() int { return r.maxConcurrency }

func (r *Renderer) callLogger(op string) (string, *slog.Logger) {
	id := ulid.Make().String()
	return id, r.logger.With("call", id, "op", op)
}

// QueryInfo runs pdfinfo on source and parses the page count and encryption flag
func (r *Renderer) QueryInfo(ctx context.Context, source []byte, opts ...InfoOption) (PdfInfo, error) {
	var o infoOptions
	for _, opt := range opts {
		opt(&o)
	}
	callID, log := r.callLogger("info")

	input, err := NewTempInput(r.tempDir, callID, source)
	if err != nil {
		return PdfInfo{}, err
	}
	defer input.Close()

	out, err := r.runner.Run(ctx, Invocation{
		Tool: ToolPdfinfo,
		Path: r.tools.Path(ToolPdfinfo),
		Args: buildInfoArgs(input.Path, o.password),
	})
	if err != nil {
		log.Error("pdfinfo failed", "error", err)
		return PdfInfo{}, err
	}
	info, err := parseInfo(out.Stdout)
	if err != nil {
		log.Error("Unable to parse pdfinfo output", "error", err)
		return PdfInfo{}, err
	}
	log.Debug("PDF info read", "pages", info.PageCount, "encrypted", info.Encrypted)
	return info, nil
}

// RenderSinglePage renders one page with one tool process
func (r *Renderer) RenderSinglePage(ctx context.Context, source []byte, info PdfInfo, page int, opts RenderOptions) (RenderedPage, error) {
	if info.Encrypted && !opts.HasPassword() {
		return RenderedPage{}, ErrNoPasswordForEncryptedPDF
	}
	if _, err := SinglePage(page).Resolve(info.PageCount); err != nil {
		return RenderedPage{}, err
	}
	callID, log := r.callLogger("render")

	input, err := NewTempInput(r.tempDir, callID, source)
	if err != nil {
		return RenderedPage{}, err
	}
	defer input.Close()

	inv := renderInvocations(r.tools, []int{page}, opts, input.Path)[0]
	out, err := r.runner.Run(ctx, inv)
	if err != nil {
		log.Error("Page render failed", "page", page, "tool", inv.Tool, "error", err)
		return RenderedPage{}, fmt.Errorf("page %d: %w", page, err)
	}
	result := collectPages([]pageOutput{{Page: page, Data: out.Stdout}}, opts.format)[0]
	if result.Err != nil {
		return RenderedPage{}, result.Err
	}
	log.Debug("Page rendered", "page", page, "tool", inv.Tool)
	return result.RenderedPage, nil
}

// RenderMultiPage renders the selected pages concurrently, one process per
// page and at most MaxConcurrency at a time. The result is ordered by page
// number. The first failure cancels every sibling process and fails the
// whole call; no partial result is returned.
func (r *Renderer) RenderMultiPage(ctx context.Context, source []byte, info PdfInfo, pages Pages, opts RenderOptions) ([]RenderedPage, error) {
	callID, log := r.callLogger("render")
	log.Debug("Batch state", "state", stateValidating, "pages", pages.String())

	if info.Encrypted && !opts.HasPassword() {
		return nil, ErrNoPasswordForEncryptedPDF
	}
	list, err := pages.Resolve(info.PageCount)
	if err != nil {
		return nil, err
	}

	input, err := NewTempInput(r.tempDir, callID, source)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	decoded := make([]RenderedPage, len(list))
	_, err = r.runBatch(ctx, log, renderInvocations(r.tools, list, opts, input.Path), func(i int, out pageOutput) error {
		result := decodePage(out, opts.format)
		if result.Err != nil {
			return result.Err
		}
		decoded[i] = result.RenderedPage
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug("Batch state", "state", stateCollecting)
	rendered := collectDecoded(decoded)
	log.Debug("Batch state", "state", stateDone, "count", len(rendered))
	return rendered, nil
}

// runBatch launches the invocations in order under the concurrency bound
// and waits for all of them. Wait returning means every process has
// exited, so the caller may remove the temp input afterwards. When handle
// is set it runs on each output as soon as its process exits; an error
// from it cancels the batch like a tool failure.
func (r *Renderer) runBatch(ctx context.Context, log *slog.Logger, invocations []Invocation, handle func(i int, out pageOutput) error) ([]pageOutput, error) {
	outputs := make([]pageOutput, len(invocations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrency)

	log.Debug("Batch state", "state", stateLaunching, "count", len(invocations), "limit", r.maxConcurrency)
	for i, inv := range invocations {
		i, inv := i, inv
		// a sibling already failed; do not spawn anything new
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Go may have blocked on the limit while a sibling failed
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := r.runner.Run(gctx, inv)
			if err != nil {
				if gctx.Err() == nil {
					log.Debug("Batch state", "state", stateAborting, "page", inv.Page, "error", err)
				}
				return fmt.Errorf("page %d: %w", inv.Page, err)
			}
			outputs[i] = pageOutput{Page: inv.Page, Data: out.Stdout}
			if handle == nil {
				return nil
			}
			if err := handle(i, outputs[i]); err != nil {
				log.Debug("Batch state", "state", stateAborting, "page", inv.Page, "error", err)
				return err
			}
			return nil
		})
	}

	log.Debug("Batch state", "state", stateAwaitingAll)
	if err := g.Wait(); err != nil {
		log.Error("Batch failed", "state", stateFailed, "error", err)
		return nil, err
	}
	return outputs, nil
}
