package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"

	"aniflux/models"
)

// Sort orders accepted by Browse.
const (
	SortPopularity   = "popularity"
	SortNewlyAdded   = "newly_added"
	SortAlphabetical = "alphabetical"
)

// BrowseOptions parameterize the universal listing primitive. Popular,
// newly-added, and category-filtered views are all thin parameterizations of
// one browse call. All filters compose.
type BrowseOptions struct {
	SortBy      string
	Categories  []string
	SeasonalTag string
	Start       int
	PageSize    int // zero means the client default
}

// cachedPage is a memoized listing page. It holds its own copies; records
// handed to callers are cloned both ways so a consumer mutating one page
// (enrichment flags, for instance) never leaks into another caller's view.
type cachedPage struct {
	series []models.Series
	next   *Cursor
}

func (p cachedPage) clone() ([]models.Series, *Cursor) {
	series := slices.Clone(p.series)
	if p.next == nil {
		return series, nil
	}
	next := *p.next
	return series, &next
}

// Browse lists series from the catalog.
func (c *Client) Browse(ctx context.Context, opts BrowseOptions) ([]models.Series, *Cursor, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	query := url.Values{}
	query.Set("start", strconv.Itoa(opts.Start))
	query.Set("n", strconv.Itoa(pageSize))
	if opts.SortBy != "" {
		query.Set("sort_by", opts.SortBy)
	}
	if len(opts.Categories) > 0 {
		query.Set("categories", strings.Join(opts.Categories, ","))
	}
	if opts.SeasonalTag != "" {
		query.Set("seasonal_tag", opts.SeasonalTag)
	}

	cacheKey := "browse:" + query.Encode()
	if cached, found := c.cache.Get(cacheKey); found {
		series, next := cached.(cachedPage).clone()
		return series, next, nil
	}

	series, next, err := c.listSeries(ctx, "/content/v2/discover/browse", query, opts.Start, pageSize)
	if err != nil {
		return nil, nil, err
	}
	page := cachedPage{series: series, next: next}
	c.cache.Set(cacheKey, page, gocache.DefaultExpiration)
	series, next = page.clone()
	return series, next, nil
}

// Popular lists series by popularity.
func (c *Client) Popular(ctx context.Context, start int) ([]models.Series, *Cursor, error) {
	return c.Browse(ctx, BrowseOptions{SortBy: SortPopularity, Start: start})
}

// NewlyAdded lists series by addition date.
func (c *Client) NewlyAdded(ctx context.Context, start int) ([]models.Series, *Cursor, error) {
	return c.Browse(ctx, BrowseOptions{SortBy: SortNewlyAdded, Start: start})
}

// Seasonal lists series carrying the given simulcast season tag.
func (c *Client) Seasonal(ctx context.Context, seasonalTag string, start int) ([]models.Series, *Cursor, error) {
	return c.Browse(ctx, BrowseOptions{SortBy: SortNewlyAdded, SeasonalTag: seasonalTag, Start: start})
}

// Search finds series matching the query. Zero matches yield an empty list,
// not an error.
func (c *Client) Search(ctx context.Context, search string, start int) ([]models.Series, *Cursor, error) {
	query := url.Values{}
	query.Set("q", search)
	query.Set("type", "series")
	query.Set("start", strconv.Itoa(start))
	query.Set("n", strconv.Itoa(c.pageSize))

	return c.listSeries(ctx, "/content/v2/discover/search", query, start, c.pageSize)
}

// listSeries runs one listing request and normalizes the page.
func (c *Client) listSeries(ctx context.Context, path string, query url.Values, start, pageSize int) ([]models.Series, *Cursor, error) {
	var raw json.RawMessage
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path, query: query}, &raw); err != nil {
		return nil, nil, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, nil, err
	}

	series := make([]models.Series, 0, len(env.items))
	for _, item := range env.items {
		s, err := models.ParseSeries(item)
		if err != nil {
			return nil, nil, err
		}
		series = append(series, s)
	}
	return series, nextCursor(start, pageSize, env), nil
}

// IndexEntry locates one alphabetical prefix within the full catalog
// ordering: prefix browse pages are addressed by offset+count, not by a
// plain start.
type IndexEntry struct {
	Prefix string `json:"prefix"`
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
}

// AlphabeticalIndex fetches the prefix index for alphabetical browsing.
func (c *Client) AlphabeticalIndex(ctx context.Context) ([]IndexEntry, error) {
	const cacheKey = "browse:index"
	if cached, found := c.cache.Get(cacheKey); found {
		return slices.Clone(cached.([]IndexEntry)), nil
	}

	var resp struct {
		Items []IndexEntry `json:"items"`
	}
	query := url.Values{}
	query.Set("sort_by", SortAlphabetical)
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: "/content/v2/discover/browse/index", query: query}, &resp); err != nil {
		return nil, err
	}
	c.cache.Set(cacheKey, resp.Items, gocache.DefaultExpiration)
	return slices.Clone(resp.Items), nil
}

// BrowsePrefix lists every series under one alphabetical prefix, using the
// offset+count window from the index lookup.
func (c *Client) BrowsePrefix(ctx context.Context, prefix string) ([]models.Series, error) {
	entries, err := c.AlphabeticalIndex(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.Prefix != prefix {
			continue
		}
		query := url.Values{}
		query.Set("sort_by", SortAlphabetical)
		query.Set("start", strconv.Itoa(entry.Offset))
		query.Set("n", strconv.Itoa(entry.Count))
		series, _, err := c.listSeries(ctx, "/content/v2/discover/browse", query, entry.Offset, entry.Count)
		return series, err
	}
	return nil, fmt.Errorf("no index entry for prefix %q", prefix)
}

// GetCategories lists the browse filter categories.
func (c *Client) GetCategories(ctx context.Context) ([]models.Category, error) {
	const cacheKey = "categories"
	if cached, found := c.cache.Get(cacheKey); found {
		return slices.Clone(cached.([]models.Category)), nil
	}

	var raw json.RawMessage
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: "/content/v2/discover/categories"}, &raw); err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	categories := make([]models.Category, 0, len(env.items))
	for _, item := range env.items {
		cat, err := models.ParseCategory(item)
		if err != nil {
			return nil, err
		}
		categories = append(categories, cat)
	}
	c.cache.Set(cacheKey, categories, gocache.DefaultExpiration)
	return slices.Clone(categories), nil
}
