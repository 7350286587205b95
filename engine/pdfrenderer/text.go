package pdfrenderer

import (
	"context"
)

// PageText is the text content of one page
type PageText struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// TextOptions configures ExtractText
type TextOptions struct {
	layout   bool
	password *Password
}

// TextOption mutates TextOptions
type TextOption func(*TextOptions)

// WithLayout keeps the physical layout of the page (pdftotext -layout)
func WithLayout(on bool) TextOption {
	return func(o *TextOptions) { o.layout = on }
}

// WithTextPassword unlocks an encrypted document for text extraction
func WithTextPassword(p Password) TextOption {
	return func(o *TextOptions) { o.password = &p }
}

// ExtractText runs pdftotext once per selected page with the same bounded,
// fail-fast batching as RenderMultiPage.
func (r *Renderer) ExtractText(ctx context.Context, source []byte, info PdfInfo, pages Pages, opts ...TextOption) ([]PageText, error) {
	var o TextOptions
	for _, opt := range opts {
		opt(&o)
	}
	callID, log := r.callLogger("text")

	if info.Encrypted && o.password == nil {
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

	path := r.tools.Path(ToolPdftotext)
	invocations := make([]Invocation, len(list))
	for i, page := range list {
		invocations[i] = Invocation{
			Tool: ToolPdftotext,
			Path: path,
			Args: buildTextArgs(page, o, input.Path),
			Page: page,
		}
	}

	outputs, err := r.runBatch(ctx, log, invocations, nil)
	if err != nil {
		return nil, err
	}
	texts := make([]PageText, len(outputs))
	for i, out := range outputs {
		texts[i] = PageText{Page: out.Page, Text: string(out.Data)}
	}
	return texts, nil
}
