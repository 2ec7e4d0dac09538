// Package extract parses configuration listings out of rendered inventory
// pages. The listing text is a single run-together string, so fields are
// recovered by splitting at lowercase-to-uppercase boundaries.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rcwatch/rcwatch/internal/watch"
)

const (
	// listingSelector matches one shop card per distinct configuration.
	listingSelector = `[data-testid^=ShopVehicleLink-]`
	// noMatchesText is rendered when the filter legitimately has no results.
	noMatchesText = "No exact matches"
)

// fieldBoundary marks the seam between two concatenated attributes, e.g.
// "PerformanceQuad-Motor" or "665hp$89,000".
var fieldBoundary = regexp.MustCompile(`[a-z][A-Z0-9$]`)

// Extract parses the rendered page into configuration records, extraction
// order preserved. A page with the no-matches marker yields an empty slice
// and no error; a page with neither marker nor listings yields
// watch.ErrSchemaMismatch, since that means the site layout changed rather
// than the inventory emptying out.
func Extract(page watch.Page) ([]watch.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", watch.ErrSchemaMismatch, err)
	}

	listings := doc.Find(listingSelector)
	if listings.Length() == 0 {
		if strings.Contains(doc.Text(), noMatchesText) {
			return []watch.Record{}, nil
		}
		return nil, fmt.Errorf("%w: no listing structure in %d bytes", watch.ErrSchemaMismatch, len(page.Body))
	}

	records := make([]watch.Record, 0, listings.Length())
	listings.Each(func(_ int, sel *goquery.Selection) {
		if rec, ok := parseListing(sel.Text()); ok {
			records = append(records, rec)
		}
	})
	return records, nil
}

// parseListing recovers a record from one listing's concatenated text. A
// listing that yields no segments is skipped rather than failing the whole
// extraction; fields past the end of the segment list stay empty.
func parseListing(text string) (watch.Record, bool) {
	segs, wheelsIdx := segments(strings.TrimSpace(text))
	if len(segs) == 0 {
		return watch.Record{}, false
	}

	rec := watch.Record{
		Vehicle:  segAt(segs, 0),
		Motor:    segAt(segs, 1),
		Price:    segAt(segs, 2),
		Wheels:   segAt(segs, wheelsIdx),
		Interior: segAt(segs, wheelsIdx+1),
		Exterior: segAt(segs, wheelsIdx+2),
	}
	if wheelsIdx+3 < len(segs) {
		rec.Packages = append([]string(nil), segs[wheelsIdx+3:]...)
	}
	return rec, true
}

// segments splits the concatenated listing text at field boundaries. The
// wheels column has no textual anchor of its own, so its index is pinned to
// the segment following the one that ends in "hp" (the motor/power field).
// A trailing "More" call-to-action is dropped.
func segments(text string) (segs []string, wheelsIdx int) {
	index := 0
	for {
		loc := fieldBoundary.FindStringIndex(text)
		if loc == nil {
			break
		}
		cut := loc[0] + 1
		index++
		if strings.HasSuffix(text[:cut], "hp") {
			wheelsIdx = index
		}
		segs = append(segs, text[:cut])
		text = text[cut:]
	}
	if text != "" && !strings.HasSuffix(text, "More") {
		segs = append(segs, text)
	}
	return segs, wheelsIdx
}

func segAt(segs []string, i int) string {
	if i >= 0 && i < len(segs) {
		return segs[i]
	}
	return ""
}
