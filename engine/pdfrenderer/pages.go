package pdfrenderer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type pagesKind int

const (
	pagesAll pagesKind = iota
	pagesRange
	pagesSpecific
)

// Pages selects which 1-based pages to render
type Pages struct {
	kind     pagesKind
	first    int
	last     int
	specific []int
}

// AllPages selects every page of the document
func AllPages() Pages { return Pages{kind: pagesAll} }

// SinglePage selects one page
func SinglePage(n int) Pages { return PageRange(n, n) }

// PageRange selects the inclusive range first..last
func PageRange(first, last int) Pages {
	return Pages{kind: pagesRange, first: first, last: last}
}

// Single reports the page number when the selection names exactly one page
func (p Pages) Single() (int, bool) {
	if p.kind == pagesRange && p.first == p.last {
		return p.first, true
	}
	return 0, false
}

// SpecificPages selects an arbitrary set of pages
func SpecificPages(pages ...int) Pages {
	return Pages{kind: pagesSpecific, specific: append([]int(nil), pages...)}
}

// Resolve validates the selection against pageCount and returns the
// ascending, de-duplicated list of pages to render.
func (p Pages) Resolve(pageCount int) ([]int, error) {
	switch p.kind {
	case pagesAll:
		pages := make([]int, pageCount)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages, nil
	case pagesRange:
		if p.last < p.first {
			return nil, &InvalidPageRangeError{First: p.first, Last: p.last}
		}
		for _, bound := range []int{p.first, p.last} {
			if bound < 1 || bound > pageCount {
				return nil, &PageOutOfBoundsError{Page: bound, PageCount: pageCount}
			}
		}
		pages := make([]int, 0, p.last-p.first+1)
		for n := p.first; n <= p.last; n++ {
			pages = append(pages, n)
		}
		return pages, nil
	case pagesSpecific:
		if len(p.specific) == 0 {
			return nil, fmt.Errorf("%w: no pages selected", ErrInvalidPageRange)
		}
		seen := make(map[int]bool, len(p.specific))
		pages := make([]int, 0, len(p.specific))
		for _, n := range p.specific {
			if n < 1 || n > pageCount {
				return nil, &PageOutOfBoundsError{Page: n, PageCount: pageCount}
			}
			if !seen[n] {
				seen[n] = true
				pages = append(pages, n)
			}
		}
		sort.Ints(pages)
		return pages, nil
	}
	return nil, fmt.Errorf("unknown page selection")
}

func (p Pages) String() string {
	switch p.kind {
	case pagesRange:
		if p.first == p.last {
			return strconv.Itoa(p.first)
		}
		return fmt.Sprintf("%d-%d", p.first, p.last)
	case pagesSpecific:
		parts := make([]string, len(p.specific))
		for i, n := range p.specific {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	}
	return "all"
}

// ParsePages reads a page selection as written on the command line or in a
// form field: "all" (or empty), "3", "2-5" or "1,4,7".
func ParsePages(s string) (Pages, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return AllPages(), nil
	}
	if strings.Contains(s, ",") {
		var pages []int
		for _, part := range strings.Split(s, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return Pages{}, fmt.Errorf("invalid page %q: %w", part, err)
			}
			pages = append(pages, n)
		}
		return SpecificPages(pages...), nil
	}
	if first, last, ok := strings.Cut(s, "-"); ok {
		a, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return Pages{}, fmt.Errorf("invalid range start %q: %w", first, err)
		}
		b, err := strconv.Atoi(strings.TrimSpace(last))
		if err != nil {
			return Pages{}, fmt.Errorf("invalid range end %q: %w", last, err)
		}
		return PageRange(a, b), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Pages{}, fmt.Errorf("invalid page %q: %w", s, err)
	}
	return SinglePage(n), nil
}
