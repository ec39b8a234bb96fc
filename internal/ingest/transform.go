package ingest

import (
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// Record is one normalized post ready for ingestion.
type Record struct {
	Post     models.Post
	Author   models.Author
	Hashtags []string
	Mentions []string
	Media    []models.MediaItem
	// Topics are the labels this ingestion is associated with, such as the
	// keyword that triggered the fetch.
	Topics []string
}

var hashtagPattern = regexp.MustCompile(`[#＃]([\p{L}\p{M}\p{N}_]+)`)

// ExtractHashtags returns the literal #tags in text, normalized and deduplicated
// in order of appearance.
func ExtractHashtags(text string) []string {
	var out []string
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return uniqueNormalized(out, NormalizeHashtag)
}

// NormalizeHashtag strips the leading symbol and lowercases.
func NormalizeHashtag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimLeft(tag, "#＃")
	return strings.ToLower(tag)
}

// NormalizeHandle strips the leading @ and lowercases.
func NormalizeHandle(handle string) string {
	return config.NormalizeHandle(handle)
}

var placeholderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rasad:placeholder-author"))

// PlaceholderAuthorID is the synthesized external id of a mentioned author
// that was never fetched. It is stable for a handle.
func PlaceholderAuthorID(handle string) string {
	return "placeholder:" + uuid.NewSHA1(placeholderNamespace, []byte(NormalizeHandle(handle))).String()
}

// uniqueNormalized normalizes every value and drops empties and repeats,
// keeping the first occurrence order.
func uniqueNormalized(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// lockOrder is uniqueNormalized sorted. Shared rows are written in this order
// so concurrent records lock them in the same sequence.
func lockOrder(values []string, normalize func(string) string) []string {
	out := uniqueNormalized(values, normalize)
	slices.Sort(out)
	return out
}
