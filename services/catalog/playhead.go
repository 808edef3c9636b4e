package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"aniflux/models"
)

// GetPlayheads batch-reads watch positions for the given content ids. Ids
// without server-side state are simply absent from the result; use
// models.LookupPlayhead for the zero default.
func (c *Client) GetPlayheads(ctx context.Context, contentIDs []string) ([]models.PlayheadRecord, error) {
	if len(contentIDs) == 0 {
		return nil, nil
	}
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("content_ids", strings.Join(contentIDs, ","))

	var resp struct {
		Data []models.PlayheadRecord `json:"data"`
	}
	path := "/content/v2/" + accountID + "/playheads"
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path, query: query}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UpdatePlayhead writes the watch position for one content id. The write is
// fire-and-forget from the player's perspective; failures are reported but
// never block playback.
func (c *Client) UpdatePlayhead(ctx context.Context, contentID string, seconds int64) error {
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"content_id": contentID,
		"playhead":   seconds,
	}
	path := "/content/v2/" + accountID + "/playheads"
	if err := c.do(ctx, apiRequest{method: http.MethodPost, path: path, body: body}, nil); err != nil {
		c.log.Warn("playhead update failed", "content_id", contentID, "error", err)
		return err
	}
	return nil
}

// MarkFullyWatched reports an episode as completely watched.
func (c *Client) MarkFullyWatched(ctx context.Context, ep models.Episode) error {
	seconds := ep.DurationMS / 1000
	if seconds == 0 {
		seconds = 1
	}
	return c.UpdatePlayhead(ctx, ep.ID, seconds)
}
