package catalog

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
)

// Cursor is the continuation state for a paginated listing: a start offset,
// or a page number for the history endpoint. Cursors only advance; callers
// drive further pages by re-invoking the operation with the returned cursor.
type Cursor struct {
	Start int `json:"start"`
	Page  int `json:"page,omitempty"`
}

// pageEnvelope is the normalized form of the two competing list response
// shapes the API has shipped: `{"data": [...], "total": N}` and
// `{"items": [...], "__links__": {"continuation": {...}}}`.
type pageEnvelope struct {
	items     []json.RawMessage
	total     int
	hasTotal  bool
	nextStart *int // from a continuation link, when present
}

// decodeEnvelope inspects which top-level key is present and dispatches to
// the matching normalizer.
func decodeEnvelope(data []byte) (pageEnvelope, error) {
	var probe struct {
		Data  []json.RawMessage `json:"data"`
		Items []json.RawMessage `json:"items"`
		Total *int              `json:"total"`
		Links struct {
			Continuation struct {
				Href string `json:"href"`
			} `json:"continuation"`
		} `json:"__links__"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return pageEnvelope{}, fmt.Errorf("decode list envelope: %w", err)
	}

	switch {
	case probe.Data != nil:
		env := pageEnvelope{items: probe.Data}
		if probe.Total != nil {
			env.total = *probe.Total
			env.hasTotal = true
		}
		return env, nil
	case probe.Items != nil:
		env := pageEnvelope{items: probe.Items}
		if probe.Total != nil {
			env.total = *probe.Total
			env.hasTotal = true
		}
		if href := probe.Links.Continuation.Href; href != "" {
			if start, ok := continuationStart(href); ok {
				env.nextStart = &start
			}
		}
		return env, nil
	default:
		return pageEnvelope{}, fmt.Errorf("unrecognized list envelope: no data or items key")
	}
}

// continuationStart pulls the start offset out of a continuation link.
func continuationStart(href string) (int, bool) {
	parsed, err := url.Parse(href)
	if err != nil {
		return 0, false
	}
	start, err := strconv.Atoi(parsed.Query().Get("start"))
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

// nextCursor derives the continuation cursor for an offset-paginated listing.
// Present iff start+pageSize < total; nil once the listing is exhausted.
func nextCursor(start, pageSize int, env pageEnvelope) *Cursor {
	if env.hasTotal {
		if start+pageSize < env.total {
			return &Cursor{Start: start + pageSize}
		}
		return nil
	}
	if env.nextStart != nil {
		return &Cursor{Start: *env.nextStart}
	}
	return nil
}
