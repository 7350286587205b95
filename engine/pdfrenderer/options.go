package pdfrenderer

import (
	"fmt"
	"strings"
)

// Format is the image encoding requested from the rasterizer
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
)

// ParseFormat accepts png, jpeg/jpg and tiff/tif (case-insensitive)
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("unknown image format %q", s)
}

// Extension returns the usual file extension, without the dot
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatTIFF:
		return "tif"
	}
	return "png"
}

// Crop is a pixel rectangle applied by the rasterizer (-x -y -W -H)
type Crop struct {
	X      int
	Y      int
	Width  int
	Height int
}

// PasswordKind selects between -opw and -upw
type PasswordKind int

const (
	OwnerPassword PasswordKind = iota + 1
	UserPassword
)

// Password unlocks an encrypted document
type Password struct {
	Kind  PasswordKind
	Value string
}

func (p Password) args() []string {
	switch p.Kind {
	case OwnerPassword:
		return []string{"-opw", p.Value}
	case UserPassword:
		return []string{"-upw", p.Value}
	}
	return nil
}

// RenderOptions is the immutable configuration shared by every page
// invocation of one render call. Build it with NewRenderOptions.
type RenderOptions struct {
	dpiX, dpiY     int
	scaleX, scaleY int
	format         Format
	greyscale      bool
	transparent    bool
	cropBox        bool
	crop           *Crop
	password       *Password
	jpegQuality    int
	pdftocairo     bool
}

// RenderOption mutates RenderOptions while they are being built
type RenderOption func(*RenderOptions)

// WithDPI sets a uniform resolution
func WithDPI(dpi int) RenderOption {
	return func(o *RenderOptions) { o.dpiX, o.dpiY = dpi, dpi }
}

// WithDPIXY sets separate horizontal and vertical resolutions
func WithDPIXY(x, y int) RenderOption {
	return func(o *RenderOptions) { o.dpiX, o.dpiY = x, y }
}

// WithScaleTo caps the longest side of the output to size pixels
func WithScaleTo(size int) RenderOption {
	return func(o *RenderOptions) { o.scaleX, o.scaleY = size, size }
}

// WithScaleToXY caps width and height separately. A value of -1 keeps
// the aspect ratio for that axis.
func WithScaleToXY(x, y int) RenderOption {
	return func(o *RenderOptions) { o.scaleX, o.scaleY = x, y }
}

// WithFormat selects the output encoding
func WithFormat(f Format) RenderOption {
	return func(o *RenderOptions) { o.format = f }
}

// WithGreyscale renders in shades of grey
func WithGreyscale(on bool) RenderOption {
	return func(o *RenderOptions) { o.greyscale = on }
}

// WithTransparency keeps the page background transparent (pdftocairo only)
func WithTransparency(on bool) RenderOption {
	return func(o *RenderOptions) { o.transparent = on }
}

// WithCropBox renders the page crop box instead of the media box
func WithCropBox(on bool) RenderOption {
	return func(o *RenderOptions) { o.cropBox = on }
}

// WithCrop crops the rendered page to the given pixel area
func WithCrop(c Crop) RenderOption {
	return func(o *RenderOptions) { o.crop = &c }
}

// WithOwnerPassword unlocks the document with its owner password
func WithOwnerPassword(pw string) RenderOption {
	return func(o *RenderOptions) { o.password = &Password{Kind: OwnerPassword, Value: pw} }
}

// WithUserPassword unlocks the document with its user password
func WithUserPassword(pw string) RenderOption {
	return func(o *RenderOptions) { o.password = &Password{Kind: UserPassword, Value: pw} }
}

// WithJPEGQuality sets the JPEG quality (1-100)
func WithJPEGQuality(q int) RenderOption {
	return func(o *RenderOptions) { o.jpegQuality = q }
}

// WithPdftocairo switches the rasterizer from pdftoppm to pdftocairo
func WithPdftocairo(on bool) RenderOption {
	return func(o *RenderOptions) { o.pdftocairo = on }
}

// NewRenderOptions builds and validates a set of render options
func NewRenderOptions(opts ...RenderOption) (RenderOptions, error) {
	o := RenderOptions{format: FormatPNG}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return RenderOptions{}, err
	}
	return o, nil
}

func (o RenderOptions) validate() error {
	if o.dpiX < 0 || o.dpiY < 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", o.dpiX, o.dpiY)
	}
	if o.scaleX == 0 && o.scaleY != 0 || o.scaleX < -1 || o.scaleY < -1 {
		return fmt.Errorf("invalid scale %dx%d", o.scaleX, o.scaleY)
	}
	switch o.format {
	case FormatPNG, FormatJPEG, FormatTIFF:
	default:
		return fmt.Errorf("unknown image format %q", o.format)
	}
	if o.crop != nil && (o.crop.Width <= 0 || o.crop.Height <= 0 || o.crop.X < 0 || o.crop.Y < 0) {
		return fmt.Errorf("invalid crop area %+v", *o.crop)
	}
	if o.jpegQuality != 0 {
		if o.format != FormatJPEG {
			return fmt.Errorf("jpeg quality set for %s output: %w", o.format, ErrUnsupportedOption)
		}
		if o.jpegQuality < 1 || o.jpegQuality > 100 {
			return fmt.Errorf("jpeg quality must be within 1-100, got %d", o.jpegQuality)
		}
	}
	if o.transparent {
		if !o.pdftocairo {
			return fmt.Errorf("transparency requires pdftocairo: %w", ErrUnsupportedOption)
		}
		if o.format == FormatJPEG {
			return fmt.Errorf("transparency with jpeg output: %w", ErrUnsupportedOption)
		}
	}
	return nil
}

// Format returns the configured output encoding
func (o RenderOptions) Format() Format { return o.format }

// Pdftocairo reports whether pdftocairo is the selected rasterizer
func (o RenderOptions) Pdftocairo() bool { return o.pdftocairo }

// HasPassword reports whether a password was configured
func (o RenderOptions) HasPassword() bool { return o.password != nil }

// rasterizer returns the tool name for the selected backend
func (o RenderOptions) rasterizer() string {
	if o.pdftocairo {
		return ToolPdftocairo
	}
	return ToolPdftoppm
}
