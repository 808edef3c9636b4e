package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"aniflux/models"
)

// listPanel unwraps a user-list item: newer API versions wrap the series or
// episode panel in a "panel" key, older ones inline it.
func listPanel(item json.RawMessage) json.RawMessage {
	var probe struct {
		Panel json.RawMessage `json:"panel"`
	}
	if err := json.Unmarshal(item, &probe); err == nil && len(probe.Panel) > 0 {
		return probe.Panel
	}
	return item
}

// GetWatchlist lists the account's watchlist page by offset.
func (c *Client) GetWatchlist(ctx context.Context, start int) ([]models.Series, *Cursor, error) {
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return nil, nil, err
	}

	query := url.Values{}
	query.Set("start", strconv.Itoa(start))
	query.Set("n", strconv.Itoa(c.pageSize))

	var raw json.RawMessage
	path := "/content/v2/" + accountID + "/watchlist"
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path, query: query}, &raw); err != nil {
		return nil, nil, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, nil, err
	}

	series := make([]models.Series, 0, len(env.items))
	for _, item := range env.items {
		s, err := models.ParseSeries(listPanel(item))
		if err != nil {
			return nil, nil, err
		}
		s.InWatchlist = true
		series = append(series, s)
	}
	return series, nextCursor(start, c.pageSize, env), nil
}

// WatchlistMembership batch-checks which of the given content ids are on the
// account's watchlist.
func (c *Client) WatchlistMembership(ctx context.Context, contentIDs []string) (map[string]bool, error) {
	membership := make(map[string]bool, len(contentIDs))
	if len(contentIDs) == 0 {
		return membership, nil
	}
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	path := "/content/v2/" + accountID + "/watchlist/" + strings.Join(contentIDs, ",")
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path}, &resp); err != nil {
		return nil, err
	}
	for _, item := range resp.Data {
		membership[item.ID] = true
	}
	return membership, nil
}

// AddToWatchlist puts a series on the watchlist.
func (c *Client) AddToWatchlist(ctx context.Context, contentID string) error {
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return err
	}
	body := map[string]string{"content_id": contentID}
	path := "/content/v2/" + accountID + "/watchlist"
	return c.do(ctx, apiRequest{method: http.MethodPost, path: path, body: body}, nil)
}

// RemoveFromWatchlist takes a series off the watchlist.
func (c *Client) RemoveFromWatchlist(ctx context.Context, contentID string) error {
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return err
	}
	path := "/content/v2/" + accountID + "/watchlist/" + contentID
	return c.do(ctx, apiRequest{method: http.MethodDelete, path: path}, nil)
}

// HistoryItem is one watch-history entry: the episode panel plus its
// recorded position.
type HistoryItem struct {
	Episode    models.Episode
	Playhead   models.PlayheadRecord
	DatePlayed time.Time
}

// GetHistory lists watch history. History paginates by page number, not
// offset; the next cursor carries the following page while full pages keep
// coming.
func (c *Client) GetHistory(ctx context.Context, page int) ([]HistoryItem, *Cursor, error) {
	if page <= 0 {
		page = 1
	}
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return nil, nil, err
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(c.pageSize))

	var resp struct {
		Items []struct {
			ID           string          `json:"id"`
			Playhead     int64           `json:"playhead"`
			FullyWatched bool            `json:"fully_watched"`
			DatePlayed   time.Time       `json:"date_played"`
			Panel        json.RawMessage `json:"panel"`
		} `json:"items"`
	}
	path := "/content/v2/" + accountID + "/watch-history"
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path, query: query}, &resp); err != nil {
		return nil, nil, err
	}

	items := make([]HistoryItem, 0, len(resp.Items))
	for _, entry := range resp.Items {
		ep, err := models.ParseEpisode(entry.Panel)
		if err != nil {
			return nil, nil, err
		}
		record := models.PlayheadRecord{
			ContentID:    entry.ID,
			Playhead:     entry.Playhead,
			FullyWatched: entry.FullyWatched,
		}
		ep.Playhead = record
		items = append(items, HistoryItem{Episode: ep, Playhead: record, DatePlayed: entry.DatePlayed})
	}

	var next *Cursor
	if len(items) == c.pageSize {
		next = &Cursor{Page: page + 1}
	}
	return items, next, nil
}

// CustomList is one user-curated list.
type CustomList struct {
	ID         string    `json:"list_id"`
	Title      string    `json:"title"`
	Total      int       `json:"total"`
	ModifiedAt time.Time `json:"modified_at"`
}

// GetCustomLists returns the account's user-curated lists.
func (c *Client) GetCustomLists(ctx context.Context) ([]CustomList, error) {
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []CustomList `json:"data"`
	}
	path := "/content/v2/" + accountID + "/custom-lists"
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetCustomList lists the contents of one user-curated list.
func (c *Client) GetCustomList(ctx context.Context, listID string, start int) ([]models.Series, *Cursor, error) {
	accountID, err := c.session.RequireAccountID(ctx)
	if err != nil {
		return nil, nil, err
	}

	query := url.Values{}
	query.Set("start", strconv.Itoa(start))
	query.Set("n", strconv.Itoa(c.pageSize))

	var raw json.RawMessage
	path := "/content/v2/" + accountID + "/custom-lists/" + listID
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path, query: query}, &raw); err != nil {
		return nil, nil, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, nil, err
	}

	series := make([]models.Series, 0, len(env.items))
	for _, item := range env.items {
		s, err := models.ParseSeries(listPanel(item))
		if err != nil {
			return nil, nil, err
		}
		series = append(series, s)
	}
	return series, nextCursor(start, c.pageSize, env), nil
}
