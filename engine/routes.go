package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdf2image/config"
	"github.com/drummonds/pdf2image/engine/pdfrenderer"
	"github.com/labstack/echo/v4"
)

// errBadRequest marks request validation failures that are not renderer errors
var errBadRequest = errors.New("bad request")

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Renderer     *pdfrenderer.Renderer
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
}

// NewServerHandler builds the renderer from the server configuration
func NewServerHandler(e *echo.Echo, serverConfig config.ServerConfig, opts ...pdfrenderer.Option) *ServerHandler {
	base := []pdfrenderer.Option{
		pdfrenderer.WithMaxConcurrency(serverConfig.MaxConcurrency),
		pdfrenderer.WithTempDir(serverConfig.TempDir),
		pdfrenderer.WithLogger(Logger),
	}
	return &ServerHandler{
		Renderer:     pdfrenderer.NewRenderer(pdfrenderer.Tools{Dir: serverConfig.PopplerPath}, append(base, opts...)...),
		Echo:         e,
		ServerConfig: serverConfig,
	}
}

// RegisterRoutes adds the API routes to the echo instance
func (serverHandler *ServerHandler) RegisterRoutes() {
	api := serverHandler.Echo.Group("/api")
	api.GET("/health", serverHandler.Health)
	api.POST("/pdf/info", serverHandler.PDFInfo)
	api.POST("/pdf/render", serverHandler.RenderPDF)
	api.POST("/pdf/text", serverHandler.ExtractPDFText)
}

// HealthResponse reports service status and which tools resolved
type HealthResponse struct {
	Status         string          `json:"status"`
	Timestamp      string          `json:"timestamp"`
	Tools          map[string]bool `json:"tools"`
	MaxConcurrency int             `json:"maxConcurrency"`
}

// RenderedPageResponse is one page of a render response
type RenderedPageResponse struct {
	Page   int    `json:"page"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Image  string `json:"image"` // base64 encoded PNG
}

// RenderResponse is returned by the render endpoint
type RenderResponse struct {
	PageCount int                    `json:"pageCount"`
	Pages     []RenderedPageResponse `json:"pages"`
}

// TextResponse is returned by the text endpoint
type TextResponse struct {
	Pages []pdfrenderer.PageText `json:"pages"`
}

// Health reports whether the poppler tools can be found
// @Summary Service health
// @Description Reports service status and the availability of each poppler tool
// @Tags Admin
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	tools := serverHandler.Renderer.Tools()
	status := "healthy"
	available := make(map[string]bool, len(pdfrenderer.AllTools))
	for _, tool := range pdfrenderer.AllTools {
		available[tool] = tools.Available(tool)
		if !available[tool] {
			status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:         status,
		Timestamp:      time.Now().Format(time.RFC3339),
		Tools:          available,
		MaxConcurrency: serverHandler.Renderer.MaxConcurrency(),
	})
}

// PDFInfo returns the page count and encryption flag of an uploaded PDF
// @Summary Read PDF information
// @Description Runs pdfinfo on the uploaded document
// @Tags PDF
// @Accept multipart/form-data
// @Produce json
// @Param pdf formData file true "PDF document"
// @Param password formData string false "User password for encrypted documents"
// @Success 200 {object} pdfrenderer.PdfInfo
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 502 {object} map[string]interface{} "pdfinfo failed"
// @Failure 503 {object} map[string]interface{} "pdfinfo not installed"
// @Router /pdf/info [post]
func (serverHandler *ServerHandler) PDFInfo(c echo.Context) error {
	data, err := serverHandler.readPDF(c)
	if err != nil {
		return errorResponse(c, err)
	}
	info, err := serverHandler.queryInfo(c.Request().Context(), c, data)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// RenderPDF renders the selected pages of an uploaded PDF to PNG previews
// @Summary Render PDF pages
// @Description Renders pages concurrently with pdftoppm or pdftocairo and returns base64 PNG images ordered by page
// @Tags PDF
// @Accept multipart/form-data
// @Produce json
// @Param pdf formData file true "PDF document"
// @Param pages formData string false "all, N, a-b or a,b,c"
// @Param dpi formData int false "Resolution in DPI"
// @Param format formData string false "png, jpeg or tiff rasterizer output"
// @Param cairo formData bool false "Use pdftocairo instead of pdftoppm"
// @Param gray formData bool false "Greyscale output"
// @Param password formData string false "User password for encrypted documents"
// @Param width formData int false "Resize previews to this width"
// @Success 200 {object} RenderResponse
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 502 {object} map[string]interface{} "Rendering failed"
// @Failure 503 {object} map[string]interface{} "Poppler tool not installed"
// @Router /pdf/render [post]
func (serverHandler *ServerHandler) RenderPDF(c echo.Context) error {
	pages, err := pdfrenderer.ParsePages(c.FormValue("pages"))
	if err != nil {
		return errorResponse(c, fmt.Errorf("%w: pages: %w", errBadRequest, err))
	}
	opts, err := serverHandler.renderOptions(c)
	if err != nil {
		return errorResponse(c, err)
	}
	width := serverHandler.ServerConfig.PreviewWidth
	if v := c.FormValue("width"); v != "" {
		width, err = strconv.Atoi(v)
		if err != nil || width < 0 {
			return errorResponse(c, fmt.Errorf("%w: width %q", errBadRequest, v))
		}
	}
	data, err := serverHandler.readPDF(c)
	if err != nil {
		return errorResponse(c, err)
	}

	ctx := c.Request().Context()
	info, err := serverHandler.queryInfo(ctx, c, data)
	if err != nil {
		return errorResponse(c, err)
	}

	var rendered []pdfrenderer.RenderedPage
	if page, ok := pages.Single(); ok {
		var one pdfrenderer.RenderedPage
		one, err = serverHandler.Renderer.RenderSinglePage(ctx, data, info, page, opts)
		rendered = []pdfrenderer.RenderedPage{one}
	} else {
		rendered, err = serverHandler.Renderer.RenderMultiPage(ctx, data, info, pages, opts)
	}
	if err != nil {
		return errorResponse(c, err)
	}

	response := RenderResponse{PageCount: info.PageCount, Pages: make([]RenderedPageResponse, 0, len(rendered))}
	for _, page := range rendered {
		encoded, err := encodePreview(page, width)
		if err != nil {
			return errorResponse(c, err)
		}
		response.Pages = append(response.Pages, encoded)
	}
	Logger.Info("Rendered PDF", "pages", pages.String(), "count", len(rendered), "cairo", opts.Pdftocairo())
	return c.JSON(http.StatusOK, response)
}

// ExtractPDFText returns the text of the selected pages
// @Summary Extract PDF text
// @Description Runs pdftotext once per selected page
// @Tags PDF
// @Accept multipart/form-data
// @Produce json
// @Param pdf formData file true "PDF document"
// @Param pages formData string false "all, N, a-b or a,b,c"
// @Param layout formData bool false "Keep the physical layout"
// @Param password formData string false "User password for encrypted documents"
// @Success 200 {object} TextResponse
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 502 {object} map[string]interface{} "Extraction failed"
// @Router /pdf/text [post]
func (serverHandler *ServerHandler) ExtractPDFText(c echo.Context) error {
	pages, err := pdfrenderer.ParsePages(c.FormValue("pages"))
	if err != nil {
		return errorResponse(c, fmt.Errorf("%w: pages: %w", errBadRequest, err))
	}
	layout, err := formBool(c, "layout", false)
	if err != nil {
		return errorResponse(c, err)
	}
	data, err := serverHandler.readPDF(c)
	if err != nil {
		return errorResponse(c, err)
	}

	ctx := c.Request().Context()
	info, err := serverHandler.queryInfo(ctx, c, data)
	if err != nil {
		return errorResponse(c, err)
	}

	textOpts := []pdfrenderer.TextOption{pdfrenderer.WithLayout(layout)}
	if pw := c.FormValue("password"); pw != "" {
		textOpts = append(textOpts, pdfrenderer.WithTextPassword(pdfrenderer.Password{Kind: pdfrenderer.UserPassword, Value: pw}))
	}
	texts, err := serverHandler.Renderer.ExtractText(ctx, data, info, pages, textOpts...)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, TextResponse{Pages: texts})
}

func (serverHandler *ServerHandler) queryInfo(ctx context.Context, c echo.Context, data []byte) (pdfrenderer.PdfInfo, error) {
	var infoOpts []pdfrenderer.InfoOption
	if pw := c.FormValue("password"); pw != "" {
		infoOpts = append(infoOpts, pdfrenderer.WithInfoPassword(pdfrenderer.Password{Kind: pdfrenderer.UserPassword, Value: pw}))
	}
	return serverHandler.Renderer.QueryInfo(ctx, data, infoOpts...)
}

// readPDF reads the "pdf" multipart field, enforcing the upload limit
func (serverHandler *ServerHandler) readPDF(c echo.Context) ([]byte, error) {
	fileHeader, err := c.FormFile("pdf")
	if err != nil {
		return nil, fmt.Errorf("%w: no PDF file provided", errBadRequest)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	limit := int64(serverHandler.ServerConfig.MaxUploadMB) << 20
	if limit <= 0 {
		limit = 64 << 20
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF file: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "PDF exceeds upload limit")
	}
	Logger.Debug("PDF uploaded", "name", fileHeader.Filename, "bytes", len(data))
	return data, nil
}

func (serverHandler *ServerHandler) renderOptions(c echo.Context) (pdfrenderer.RenderOptions, error) {
	var opts []pdfrenderer.RenderOption
	if v := c.FormValue("dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil {
			return pdfrenderer.RenderOptions{}, fmt.Errorf("%w: dpi %q", errBadRequest, v)
		}
		opts = append(opts, pdfrenderer.WithDPI(dpi))
	}
	if v := c.FormValue("format"); v != "" {
		format, err := pdfrenderer.ParseFormat(v)
		if err != nil {
			return pdfrenderer.RenderOptions{}, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		opts = append(opts, pdfrenderer.WithFormat(format))
	}
	cairo, err := formBool(c, "cairo", serverHandler.ServerConfig.UsePdftocairo)
	if err != nil {
		return pdfrenderer.RenderOptions{}, err
	}
	gray, err := formBool(c, "gray", false)
	if err != nil {
		return pdfrenderer.RenderOptions{}, err
	}
	opts = append(opts, pdfrenderer.WithPdftocairo(cairo), pdfrenderer.WithGreyscale(gray))
	if pw := c.FormValue("password"); pw != "" {
		opts = append(opts, pdfrenderer.WithUserPassword(pw))
	}

	renderOpts, err := pdfrenderer.NewRenderOptions(opts...)
	if err != nil {
		return pdfrenderer.RenderOptions{}, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return renderOpts, nil
}

func formBool(c echo.Context, name string, defaultValue bool) (bool, error) {
	v := c.FormValue(name)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s %q", errBadRequest, name, v)
	}
	return b, nil
}

// encodePreview resizes the page when a width is requested and encodes it as base64 PNG
func encodePreview(page pdfrenderer.RenderedPage, width int) (RenderedPageResponse, error) {
	var img image.Image = page.Image
	if width > 0 && img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
		img = imaging.Sharpen(img, 0.5)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return RenderedPageResponse{}, fmt.Errorf("failed to encode page %d: %w", page.Page, err)
	}
	return RenderedPageResponse{
		Page:   page.Page,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// statusFor maps renderer errors onto HTTP status codes
func statusFor(err error) int {
	var notFound *pdfrenderer.ToolNotFoundError
	var execErr *pdfrenderer.ToolExecutionError
	var decodeErr *pdfrenderer.ImageDecodeError
	var parseErr *pdfrenderer.InfoParseError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, errBadRequest),
		errors.Is(err, pdfrenderer.ErrInvalidPageRange),
		errors.Is(err, pdfrenderer.ErrPageOutOfBounds),
		errors.Is(err, pdfrenderer.ErrNoPasswordForEncryptedPDF),
		errors.Is(err, pdfrenderer.ErrUnsupportedOption):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusServiceUnavailable
	case errors.As(err, &execErr), errors.As(err, &decodeErr), errors.As(err, &parseErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		Logger.Error("PDF request failed", "path", c.Path(), "status", status, "error", err)
	} else {
		Logger.Debug("PDF request rejected", "path", c.Path(), "status", status, "error", err)
	}
	message := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message = fmt.Sprint(httpErr.Message)
	}
	return c.JSON(status, map[string]interface{}{
		"error": message,
	})
}
