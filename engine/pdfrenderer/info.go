package pdfrenderer

import (
	"bytes"
	"strconv"
	"strings"
)

// PdfInfo is derived once from a document by QueryInfo. It is not kept in
// sync with the source bytes; query again if they change.
type PdfInfo struct {
	PageCount int  `json:"pageCount"`
	Encrypted bool `json:"encrypted"`
}

// InfoOption configures QueryInfo
type InfoOption func(*infoOptions)

type infoOptions struct {
	password *Password
}

// WithInfoPassword passes a password to pdfinfo for documents that need one
func WithInfoPassword(p Password) InfoOption {
	return func(o *infoOptions) { o.password = &p }
}

// parseInfo extracts the page count and encryption flag from pdfinfo's
// line-oriented output. Unknown lines are ignored, however long.
func parseInfo(output []byte) (PdfInfo, error) {
	var info PdfInfo
	var havePages, haveEncrypted bool
	for _, line := range bytes.Split(output, []byte("\n")) {
		key, value, ok := strings.Cut(string(line), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(value)
		switch strings.TrimSpace(key) {
		case "Pages":
			if len(fields) == 0 {
				return PdfInfo{}, &InfoParseError{Field: "Pages", Output: string(output)}
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil || n < 1 {
				return PdfInfo{}, &InfoParseError{Field: "Pages", Output: string(output)}
			}
			info.PageCount = n
			havePages = true
		case "Encrypted":
			// "no" or "yes (print:yes copy:no change:no addNotes:no ...)"
			if len(fields) == 0 {
				return PdfInfo{}, &InfoParseError{Field: "Encrypted", Output: string(output)}
			}
			switch fields[0] {
			case "yes":
				info.Encrypted = true
			case "no":
				info.Encrypted = false
			default:
				return PdfInfo{}, &InfoParseError{Field: "Encrypted", Output: string(output)}
			}
			haveEncrypted = true
		}
	}
	if !havePages {
		return PdfInfo{}, &InfoParseError{Field: "Pages", Output: string(output)}
	}
	if !haveEncrypted {
		return PdfInfo{}, &InfoParseError{Field: "Encrypted", Output: string(output)}
	}
	return info, nil
}
