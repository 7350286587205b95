package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	config "github.com/drummonds/pdf2image/config"
	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

type cliOptions struct {
	pages    string
	dpi      int
	format   string
	cairo    bool
	gray     bool
	password string
	width    int
	out      string
	text     bool
	layout   bool
	jobs     int
	timeout  time.Duration
}

func main() {
	var opts cliOptions
	flag.StringVar(&opts.pages, "pages", "all", "Pages to render: all, N, a-b or a,b,c")
	flag.IntVar(&opts.dpi, "dpi", 150, "Resolution in DPI")
	flag.StringVar(&opts.format, "format", "png", "Output format: png, jpeg or tiff")
	flag.BoolVar(&opts.cairo, "cairo", false, "Render with pdftocairo instead of pdftoppm")
	flag.BoolVar(&opts.gray, "gray", false, "Greyscale output")
	flag.StringVar(&opts.password, "password", "", "User password for encrypted documents")
	flag.IntVar(&opts.width, "width", 0, "Resize pages to this width before saving")
	flag.StringVar(&opts.out, "out", ".", "Output directory for page images")
	flag.BoolVar(&opts.text, "text", false, "Print extracted text instead of rendering")
	flag.BoolVar(&opts.layout, "layout", false, "Keep the physical layout when printing text")
	flag.IntVar(&opts.jobs, "j", 0, "Maximum concurrent tool processes (default from PDF2IMAGE_MAX_CONCURRENCY)")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Abort if the whole conversion takes longer")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] file.pdf\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "pdf2image:", err)
		os.Exit(1)
	}
}

func run(opts cliOptions, pdfPath string) error {
	serverConfig, logger := config.SetupCLI()
	if opts.jobs > 0 {
		serverConfig.MaxConcurrency = opts.jobs
	}

	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return err
	}
	pages, err := pdfrenderer.ParsePages(opts.pages)
	if err != nil {
		return err
	}

	renderer := pdfrenderer.NewRenderer(config.ToolsFromEnv(),
		pdfrenderer.WithMaxConcurrency(serverConfig.MaxConcurrency),
		pdfrenderer.WithTempDir(serverConfig.TempDir),
		pdfrenderer.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	var password *pdfrenderer.Password
	if opts.password != "" {
		password = &pdfrenderer.Password{Kind: pdfrenderer.UserPassword, Value: opts.password}
	}

	var infoOpts []pdfrenderer.InfoOption
	if password != nil {
		infoOpts = append(infoOpts, pdfrenderer.WithInfoPassword(*password))
	}
	info, err := renderer.QueryInfo(ctx, data, infoOpts...)
	if err != nil {
		return err
	}

	if opts.text {
		return printText(ctx, renderer, data, info, pages, opts, password)
	}
	return renderPages(ctx, renderer, data, info, pages, opts)
}

func printText(ctx context.Context, renderer *pdfrenderer.Renderer, data []byte, info pdfrenderer.PdfInfo, pages pdfrenderer.Pages, opts cliOptions, password *pdfrenderer.Password) error {
	textOpts := []pdfrenderer.TextOption{pdfrenderer.WithLayout(opts.layout)}
	if password != nil {
		textOpts = append(textOpts, pdfrenderer.WithTextPassword(*password))
	}
	texts, err := renderer.ExtractText(ctx, data, info, pages, textOpts...)
	if err != nil {
		return err
	}
	for _, page := range texts {
		fmt.Printf("--- page %d ---\n%s", page.Page, page.Text)
	}
	return nil
}

func renderPages(ctx context.Context, renderer *pdfrenderer.Renderer, data []byte, info pdfrenderer.PdfInfo, pages pdfrenderer.Pages, opts cliOptions) error {
	format, err := pdfrenderer.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	renderOpts := []pdfrenderer.RenderOption{
		pdfrenderer.WithDPI(opts.dpi),
		pdfrenderer.WithFormat(format),
		pdfrenderer.WithPdftocairo(opts.cairo),
		pdfrenderer.WithGreyscale(opts.gray),
	}
	if opts.password != "" {
		renderOpts = append(renderOpts, pdfrenderer.WithUserPassword(opts.password))
	}
	options, err := pdfrenderer.NewRenderOptions(renderOpts...)
	if err != nil {
		return err
	}

	rendered, err := renderer.RenderMultiPage(ctx, data, info, pages, options)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.out, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, page := range rendered {
		img := page.Image
		if opts.width > 0 && img.Bounds().Dx() > opts.width {
			img = imaging.Resize(img, opts.width, 0, imaging.Lanczos)
		}
		path := filepath.Join(opts.out, fmt.Sprintf("page-%d.%s", page.Page, format.Extension()))
		if err := imaging.Save(img, path); err != nil {
			return fmt.Errorf("failed to save page %d: %w", page.Page, err)
		}
		fmt.Println(path)
	}
	return nil
}
