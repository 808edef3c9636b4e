package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"aniflux/models"
)

// GetSeriesSeasons lists the seasons of a series, CDN-scoped.
func (c *Client) GetSeriesSeasons(ctx context.Context, seriesID string) ([]models.Season, error) {
	query := url.Values{}
	query.Set("series_id", seriesID)

	var raw json.RawMessage
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: "seasons", query: query, cdn: true}, &raw); err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	seasons := make([]models.Season, 0, len(env.items))
	for _, item := range env.items {
		season, err := models.ParseSeason(item)
		if err != nil {
			return nil, err
		}
		if season.SeriesID == "" {
			season.SeriesID = seriesID
		}
		seasons = append(seasons, season)
	}
	return seasons, nil
}

// GetSeasonEpisodes lists the episodes of a season. The season-episodes
// endpoint does not carry duration, versions, or artwork; those are joined
// in from a second batch objects fetch. Skipping that join would hand
// consumers episodes with incomplete metadata, so its failure fails the
// whole operation.
func (c *Client) GetSeasonEpisodes(ctx context.Context, seasonID string) ([]models.Episode, error) {
	query := url.Values{}
	query.Set("season_id", seasonID)

	var raw json.RawMessage
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: "episodes", query: query, cdn: true}, &raw); err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	episodes := make([]models.Episode, 0, len(env.items))
	ids := make([]string, 0, len(env.items))
	for _, item := range env.items {
		ep, err := models.ParseEpisode(item)
		if err != nil {
			return nil, err
		}
		if ep.SeasonID == "" {
			ep.SeasonID = seasonID
		}
		episodes = append(episodes, ep)
		ids = append(ids, ep.ID)
	}
	if len(episodes) == 0 {
		return episodes, nil
	}

	objects, err := c.getObjects(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range episodes {
		episodes[i] = mergeObjectData(episodes[i], objects)
	}
	return episodes, nil
}

// objectData is the per-id payload of the batch objects endpoint.
type objectData struct {
	DurationMS  int64
	AudioLocale string
	Versions    []models.Version
	Thumbnail   []models.Image
	Premium     bool
}

// getObjects batch-fetches object records by id.
func (c *Client) getObjects(ctx context.Context, ids []string) (map[string]objectData, error) {
	var resp struct {
		Data []struct {
			ID     string `json:"id"`
			Images struct {
				Thumbnail [][]models.Image `json:"thumbnail"`
			} `json:"images"`
			EpisodeMetadata *struct {
				DurationMS    int64            `json:"duration_ms"`
				AudioLocale   string           `json:"audio_locale"`
				Versions      []models.Version `json:"versions"`
				IsPremiumOnly bool             `json:"is_premium_only"`
			} `json:"episode_metadata"`
		} `json:"data"`
	}

	path := "/content/v2/cms/objects/" + strings.Join(ids, ",")
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path}, &resp); err != nil {
		return nil, err
	}

	objects := make(map[string]objectData, len(resp.Data))
	for _, item := range resp.Data {
		data := objectData{}
		if len(item.Images.Thumbnail) > 0 {
			data.Thumbnail = item.Images.Thumbnail[0]
		}
		if m := item.EpisodeMetadata; m != nil {
			data.DurationMS = m.DurationMS
			data.AudioLocale = m.AudioLocale
			data.Versions = m.Versions
			data.Premium = m.IsPremiumOnly
		}
		objects[item.ID] = data
	}
	return objects, nil
}

// mergeObjectData backfills episode fields from the objects join. Fields the
// episode endpoint already supplied win.
func mergeObjectData(ep models.Episode, objects map[string]objectData) models.Episode {
	data, ok := objects[ep.ID]
	if !ok {
		return ep
	}
	if ep.DurationMS == 0 {
		ep.DurationMS = data.DurationMS
	}
	if ep.AudioLocale == "" {
		ep.AudioLocale = data.AudioLocale
	}
	if len(ep.Versions) == 0 {
		ep.Versions = data.Versions
	}
	if len(ep.Thumbnail) == 0 {
		ep.Thumbnail = data.Thumbnail
	}
	if !ep.Premium {
		ep.Premium = data.Premium
	}
	return ep
}
