// Package search implements the paginated query result cache: a read path
// that serves pages out of cached result windows and a single background
// writer that persists and re-centers those windows.
package search

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/detect"
)

const (
	// PageLimitMax is the number of rows per page.
	PageLimitMax = 5
	// CachePageSize is the number of pages held by a cached window.
	CachePageSize = 20
	// CacheStartRefresh is the number of leading pages never re-centered.
	CacheStartRefresh = 2

	// WindowRows is the size of a cached window.
	WindowRows = CachePageSize * PageLimitMax
	// WindowLead is how many rows a freshly fetched window keeps before the
	// requested offset.
	WindowLead = (CachePageSize / 2) * PageLimitMax
	// WarmOffset is the offset beyond which re-centering is considered.
	WarmOffset = CacheStartRefresh * PageLimitMax
	// RecenterDistance is the distance from the window center that triggers
	// a re-center.
	RecenterDistance = ((CachePageSize - CacheStartRefresh) / 2) * PageLimitMax
)

// typeFilters lists the accepted type filters. The empty string matches all
// messages.
var typeFilters = []string{
	"",
	database.TypeText,
	string(detect.DocPhoto),
	string(detect.DocVideo),
	string(detect.DocAnimation),
	string(detect.DocDocument),
	string(detect.DocVoice),
}

// ValidTypeFilter reports whether t is an accepted type filter.
func ValidTypeFilter(t string) bool {
	return slices.Contains(typeFilters, t)
}

// NormalizeTerms splits raw search arguments on whitespace, lower-cases them,
// drops duplicates, and sorts the result so equivalent searches share a key.
func NormalizeTerms(raw []string) []string {
	var terms []string
	for _, arg := range raw {
		for _, f := range strings.Fields(arg) {
			terms = append(terms, strings.ToLower(f))
		}
	}
	slices.Sort(terms)
	return slices.Compact(terms)
}

// Fingerprint is the stable cache and history key for normalized terms and a
// type filter.
func Fingerprint(terms []string, typeFilter string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(terms, "\x1f")))
	h.Write([]byte{0x1e})
	h.Write([]byte(typeFilter))
	return hex.EncodeToString(h.Sum(nil))
}
