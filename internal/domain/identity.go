package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	// IDLength is the number of hex characters kept from the content hash.
	IDLength = 32

	// PublishedLayout is the canonical UTC ISO-8601 layout for Published.
	PublishedLayout = "2006-01-02T15:04:05.999999-07:00"
)

// MakeID derives the content identity of an article from its title and URL.
// Absent values hash as empty strings, so the result is never empty.
func MakeID(title, url string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte(url))
	return hex.EncodeToString(h.Sum(nil))[:IDLength]
}

// NormalizeTime parses a loosely formatted timestamp and renders it in UTC.
// Values without a zone are taken as UTC. Unparseable input yields "".
func NormalizeTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return ""
	}
	return FormatPublished(t)
}

// FormatPublished renders t in the canonical Published layout.
func FormatPublished(t time.Time) string {
	return t.UTC().Format(PublishedLayout)
}

// ParsePublished parses a normalized Published value.
func ParsePublished(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// MergeCategories returns the sorted union of both sets with blanks removed.
func MergeCategories(stored, incoming []string) []string {
	set := make(map[string]struct{}, len(stored)+len(incoming))
	for _, group := range [][]string{stored, incoming} {
		for _, c := range group {
			if c = strings.TrimSpace(c); c != "" {
				set[c] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SplitCategories reads a legacy comma-separated category column.
func SplitCategories(csv string) []string {
	return MergeCategories(strings.Split(csv, ","), nil)
}

// Truncate keeps at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

var imageKeys = []string{"urlToImage", "imageUrl", "image_url"}

// ImageURLFromMap returns the first non-blank image URL found in a provider payload.
func ImageURLFromMap(raw map[string]any) string {
	for _, k := range imageKeys {
		if v, ok := raw[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// ImageURLFromRaw is ImageURLFromMap over an undecoded JSON payload.
func ImageURLFromRaw(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return ImageURLFromMap(m)
}
