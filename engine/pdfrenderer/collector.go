package pdfrenderer

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"sort"

	"golang.org/x/image/tiff"
)

// RenderedPage is a decoded page image. Nothing on disk backs it.
type RenderedPage struct {
	Page  int
	Image image.Image
}

// pageOutput is the raw stdout of one page invocation
type pageOutput struct {
	Page int
	Data []byte
}

// pageResult is the decode outcome for one page
type pageResult struct {
	RenderedPage
	Err error
}

func decodeImage(data []byte, format Format) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case FormatPNG:
		return png.Decode(r)
	case FormatJPEG:
		return jpeg.Decode(r)
	case FormatTIFF:
		return tiff.Decode(r)
	}
	return nil, fmt.Errorf("no decoder for format %q", format)
}

// decodePage decodes one page output. A failure carries an ImageDecodeError.
func decodePage(out pageOutput, format Format) pageResult {
	result := pageResult{RenderedPage: RenderedPage{Page: out.Page}}
	img, err := decodeImage(out.Data, format)
	if err != nil {
		result.Err = &ImageDecodeError{Page: out.Page, Err: err}
		return result
	}
	result.Image = img
	return result
}

// collectPages decodes every output and orders the results by page number,
// whatever order the invocations finished in. A page that fails to decode
// carries an ImageDecodeError and leaves the other pages untouched.
func collectPages(outputs []pageOutput, format Format) []pageResult {
	results := make([]pageResult, len(outputs))
	for i, out := range outputs {
		results[i] = decodePage(out, format)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Page < results[j].Page })
	return results
}

// collectDecoded orders pages that were decoded as their processes exited
func collectDecoded(pages []RenderedPage) []RenderedPage {
	sorted := append([]RenderedPage(nil), pages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Page < sorted[j].Page })
	return sorted
}
