package catalog

import (
	"context"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc/pool"

	"aniflux/models"
)

const (
	// enrichBatchSize bounds how many ids one batch endpoint call carries.
	enrichBatchSize = 50
	// enrichWorkers bounds concurrent enrichment calls per page.
	enrichWorkers = 4
)

// EnrichEpisodes attaches server-side watch positions to a page of episodes,
// fanning playhead batches out concurrently. Enrichment is all-or-nothing:
// if any batch fails the input is left untouched and the error returned, so
// a page never shows a mix of fresh and missing state.
func (c *Client) EnrichEpisodes(ctx context.Context, episodes []models.Episode) error {
	if len(episodes) == 0 {
		return nil
	}

	ids := make([]string, 0, len(episodes))
	for _, ep := range episodes {
		ids = append(ids, ep.ID)
	}

	records, err := c.fetchPlayheads(ctx, ids)
	if err != nil {
		return err
	}

	for i := range episodes {
		episodes[i].Playhead = models.LookupPlayhead(records, episodes[i].ID)
	}
	return nil
}

// EnrichSeries attaches watchlist membership to a page of series, fanning
// membership batches out concurrently. Same all-or-nothing rule as
// EnrichEpisodes.
func (c *Client) EnrichSeries(ctx context.Context, series []models.Series) error {
	if len(series) == 0 {
		return nil
	}

	ids := make([]string, 0, len(series))
	for _, s := range series {
		ids = append(ids, s.ID)
	}

	results := make([]map[string]bool, len(batches(ids, enrichBatchSize)))
	p := pool.New().
		WithMaxGoroutines(enrichWorkers).
		WithContext(ctx).
		WithCancelOnError()
	for i, batch := range batches(ids, enrichBatchSize) {
		i, batch := i, batch
		p.Go(func(ctx context.Context) error {
			membership, err := c.WatchlistMembership(ctx, batch)
			if err != nil {
				return err
			}
			results[i] = membership
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	membership := make(map[string]bool, len(ids))
	for _, m := range results {
		for id, ok := range m {
			membership[id] = ok
		}
	}
	for i := range series {
		series[i].InWatchlist = membership[series[i].ID]
	}
	return nil
}

// fetchPlayheads batch-reads playheads for the given ids, splitting into
// bounded concurrent calls and merging the results.
func (c *Client) fetchPlayheads(ctx context.Context, ids []string) ([]models.PlayheadRecord, error) {
	chunks := batches(ids, enrichBatchSize)
	results := make([][]models.PlayheadRecord, len(chunks))

	p := pool.New().
		WithMaxGoroutines(enrichWorkers).
		WithContext(ctx).
		WithCancelOnError()
	for i, batch := range chunks {
		i, batch := i, batch
		p.Go(func(ctx context.Context) error {
			records, err := c.GetPlayheads(ctx, batch)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	merged := make([]models.PlayheadRecord, 0, len(ids))
	for _, records := range results {
		merged = append(merged, records...)
	}
	return merged, nil
}

// GetUpNext returns the next episode to watch for a series, with its watch
// position attached, or nil when the server has no suggestion.
func (c *Client) GetUpNext(ctx context.Context, seriesID string) (*models.Episode, error) {
	query := url.Values{}
	query.Set("series_id", seriesID)

	var resp struct {
		Data []struct {
			Playhead     int64           `json:"playhead"`
			FullyWatched bool            `json:"fully_watched"`
			Panel        json.RawMessage `json:"panel"`
		} `json:"data"`
	}
	path := "/content/v2/discover/up_next/" + seriesID
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path, query: query}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	entry := resp.Data[0]
	ep, err := models.ParseEpisode(listPanel(entry.Panel))
	if err != nil {
		return nil, err
	}
	ep.Playhead = models.PlayheadRecord{
		ContentID:    ep.ID,
		Playhead:     entry.Playhead,
		FullyWatched: entry.FullyWatched,
	}
	return &ep, nil
}

// batches splits ids into chunks of at most size.
func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := size
		if len(ids) < n {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
