package pdfrenderer

import (
	"fmt"
	"strconv"
)

// Invocation is one fully built tool call
type Invocation struct {
	Tool string
	Path string
	Args []string
	Page int
}

// pageBounds constrains a tool to exactly one page
func pageBounds(page int) []string {
	n := strconv.Itoa(page)
	return []string{"-f", n, "-l", n}
}

// buildRenderArgs maps the options onto the flag dialect of the selected
// rasterizer. The image is always written to stdout.
func buildRenderArgs(page int, o RenderOptions, input string) []string {
	args := []string{"-" + string(o.format), "-singlefile"}
	args = append(args, pageBounds(page)...)

	if o.dpiX != 0 || o.dpiY != 0 {
		if o.dpiX == o.dpiY {
			args = append(args, "-r", strconv.Itoa(o.dpiX))
		} else {
			args = append(args, "-rx", strconv.Itoa(o.dpiX), "-ry", strconv.Itoa(o.dpiY))
		}
	}
	if o.scaleX != 0 {
		if o.scaleX == o.scaleY {
			args = append(args, "-scale-to", strconv.Itoa(o.scaleX))
		} else {
			args = append(args, "-scale-to-x", strconv.Itoa(o.scaleX), "-scale-to-y", strconv.Itoa(o.scaleY))
		}
	}
	if o.greyscale {
		args = append(args, "-gray")
	}
	if o.cropBox {
		args = append(args, "-cropbox")
	}
	if o.crop != nil {
		args = append(args,
			"-x", strconv.Itoa(o.crop.X),
			"-y", strconv.Itoa(o.crop.Y),
			"-W", strconv.Itoa(o.crop.Width),
			"-H", strconv.Itoa(o.crop.Height),
		)
	}
	if o.transparent && o.pdftocairo {
		args = append(args, "-transp")
	}
	if o.jpegQuality != 0 {
		args = append(args, "-jpegopt", fmt.Sprintf("quality=%d", o.jpegQuality))
	}
	if o.password != nil {
		args = append(args, o.password.args()...)
	}

	// pdftoppm writes to stdout when no output root is given,
	// pdftocairo needs an explicit "-"
	args = append(args, input)
	if o.pdftocairo {
		args = append(args, "-")
	}
	return args
}

// renderInvocations builds one invocation per page, in page order
func renderInvocations(tools Tools, pages []int, o RenderOptions, input string) []Invocation {
	tool := o.rasterizer()
	path := tools.Path(tool)
	invocations := make([]Invocation, len(pages))
	for i, page := range pages {
		invocations[i] = Invocation{
			Tool: tool,
			Path: path,
			Args: buildRenderArgs(page, o, input),
			Page: page,
		}
	}
	return invocations
}

func buildInfoArgs(input string, password *Password) []string {
	var args []string
	if password != nil {
		args = append(args, password.args()...)
	}
	return append(args, input)
}

func buildTextArgs(page int, o TextOptions, input string) []string {
	args := pageBounds(page)
	if o.layout {
		args = append(args, "-layout")
	}
	if o.password != nil {
		args = append(args, o.password.args()...)
	}
	return append(args, input, "-")
}
