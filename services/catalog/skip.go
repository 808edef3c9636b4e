package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"aniflux/models"
	"aniflux/utils"
)

// GetSkipEvents fetches intro/credits/recap/preview ranges for an episode
// from the static asset host. The data is best-effort: not every episode has
// it, and the host answers 403 or 404 for missing entries, so both map to an
// empty set rather than an error.
func (c *Client) GetSkipEvents(ctx context.Context, episodeID string) (models.SkipEvents, error) {
	target := utils.JoinURL(c.staticURL, "/skip-events/production/"+episodeID+".json", nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return models.SkipEvents{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.SkipEvents{}, fmt.Errorf("fetch skip events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return models.SkipEvents{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return models.SkipEvents{}, &APIError{StatusCode: resp.StatusCode, Message: "skip events unavailable"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.SkipEvents{}, fmt.Errorf("read skip events: %w", err)
	}

	var raw struct {
		Intro   *skipRange `json:"intro"`
		Credits *skipRange `json:"credits"`
		Recap   *skipRange `json:"recap"`
		Preview *skipRange `json:"preview"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.SkipEvents{}, fmt.Errorf("decode skip events: %w", err)
	}
	return models.SkipEvents{
		Intro:   raw.Intro.toRange(),
		Credits: raw.Credits.toRange(),
		Recap:   raw.Recap.toRange(),
		Preview: raw.Preview.toRange(),
	}, nil
}

type skipRange struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// toRange drops entries with missing endpoints; a range needs both to be
// actionable in a player.
func (r *skipRange) toRange() *models.SkipRange {
	if r == nil || r.Start == nil || r.End == nil {
		return nil
	}
	return &models.SkipRange{Start: *r.Start, End: *r.End}
}
