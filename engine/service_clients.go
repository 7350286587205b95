package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

// ServiceClient calls a running pdf2image service over HTTP
type ServiceClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewServiceClient creates a client for the service at baseURL
func NewServiceClient(baseURL string) *ServiceClient {
	return &ServiceClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// RenderRequest holds the form fields of a render call
type RenderRequest struct {
	Pages    string
	DPI      int
	Format   string
	Cairo    bool
	Gray     bool
	Password string
	Width    int
}

func (r RenderRequest) fields() map[string]string {
	fields := map[string]string{}
	if r.Pages != "" {
		fields["pages"] = r.Pages
	}
	if r.DPI > 0 {
		fields["dpi"] = strconv.Itoa(r.DPI)
	}
	if r.Format != "" {
		fields["format"] = r.Format
	}
	if r.Cairo {
		fields["cairo"] = "true"
	}
	if r.Gray {
		fields["gray"] = "true"
	}
	if r.Password != "" {
		fields["password"] = r.Password
	}
	if r.Width > 0 {
		fields["width"] = strconv.Itoa(r.Width)
	}
	return fields
}

// ServiceError is a non-200 answer from the service
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("pdf2image service returned error status %d: %s", e.StatusCode, e.Message)
}

// CallInfo sends a PDF to the info endpoint
func (sc *ServiceClient) CallInfo(ctx context.Context, pdfPath, password string) (pdfrenderer.PdfInfo, error) {
	var info pdfrenderer.PdfInfo
	fields := map[string]string{}
	if password != "" {
		fields["password"] = password
	}
	err := sc.postPDF(ctx, "/api/pdf/info", pdfPath, fields, &info)
	return info, err
}

// CallRender sends a PDF to the render endpoint and returns the encoded pages
func (sc *ServiceClient) CallRender(ctx context.Context, pdfPath string, req RenderRequest) (*RenderResponse, error) {
	var resp RenderResponse
	if err := sc.postPDF(ctx, "/api/pdf/render", pdfPath, req.fields(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CallText sends a PDF to the text endpoint
func (sc *ServiceClient) CallText(ctx context.Context, pdfPath, pages string) ([]pdfrenderer.PageText, error) {
	var resp TextResponse
	fields := map[string]string{}
	if pages != "" {
		fields["pages"] = pages
	}
	if err := sc.postPDF(ctx, "/api/pdf/text", pdfPath, fields, &resp); err != nil {
		return nil, err
	}
	return resp.Pages, nil
}

// SavePages writes each page of a render response to dir as page-N.png
func SavePages(resp *RenderResponse, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make([]string, 0, len(resp.Pages))
	for _, page := range resp.Pages {
		imageData, err := base64.StdEncoding.DecodeString(page.Image)
		if err != nil {
			return paths, fmt.Errorf("failed to decode base64 image for page %d: %w", page.Page, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("page-%d.png", page.Page))
		if err := os.WriteFile(path, imageData, 0644); err != nil {
			return paths, fmt.Errorf("failed to write image file: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (sc *ServiceClient) postPDF(ctx context.Context, endpoint, pdfPath string, fields map[string]string, out interface{}) error {
	// Open the PDF file
	file, err := os.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer file.Close()

	// Create multipart form data
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	part, err := writer.CreateFormFile("pdf", filepath.Base(pdfPath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return fmt.Errorf("failed to copy file data: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	// Make HTTP request
	url := sc.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := sc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call pdf2image service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		var errResp struct {
			Error string `json:"error"`
		}
		message := string(bodyBytes)
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		return &ServiceError{StatusCode: resp.StatusCode, Message: message}
	}

	// Parse response
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode service response: %w", err)
	}
	return nil
}
