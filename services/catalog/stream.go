package catalog

import (
	"context"
	"fmt"
	"net/http"

	"aniflux/models"
	"aniflux/utils"
)

// ResolveStreamVersion picks the stream id and audio locale for an episode
// given the preferred audio selector:
//
//   - "original" picks the version flagged original.
//   - A locale picks the matching dub version, falling back to the original
//     version when the preference is unavailable.
//   - An episode with no versions list is a single-audio title: its own id is
//     the stream id and its own audio locale is authoritative.
func ResolveStreamVersion(ep models.Episode, preferredAudio string) (string, string) {
	if len(ep.Versions) == 0 {
		return ep.ID, ep.AudioLocale
	}

	var original *models.Version
	for i := range ep.Versions {
		v := &ep.Versions[i]
		if v.Original && original == nil {
			original = v
		}
		if preferredAudio != "original" && v.AudioLocale == preferredAudio {
			return v.GUID, v.AudioLocale
		}
	}
	if original != nil {
		return original.GUID, original.AudioLocale
	}
	// No version carries the original flag; take the first as last resort.
	return ep.Versions[0].GUID, ep.Versions[0].AudioLocale
}

// GetStreamInfo resolves the preferred audio version of an episode and
// exchanges it for a signed manifest URL, DRM token, and subtitle map.
func (c *Client) GetStreamInfo(ctx context.Context, ep models.Episode) (models.StreamInfo, error) {
	streamID, audioLocale := ResolveStreamVersion(ep, c.audio)
	if streamID == "" {
		return models.StreamInfo{}, fmt.Errorf("episode %s has no resolvable stream", ep.ID)
	}

	var resp struct {
		URL         string `json:"url"`
		Token       string `json:"token"`
		AudioLocale string `json:"audioLocale"`
		Subtitles   map[string]struct {
			URL    string `json:"url"`
			Format string `json:"format"`
		} `json:"subtitles"`
		HardSubs map[string]struct {
			URL string `json:"url"`
		} `json:"hardSubs"`
	}
	path := "/playback/v2/" + streamID + "/player/play"
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: path}, &resp); err != nil {
		return models.StreamInfo{}, err
	}

	manifest, err := utils.EncodeURLWithSpaces(resp.URL)
	if err != nil {
		return models.StreamInfo{}, fmt.Errorf("manifest url: %w", err)
	}
	if err := utils.ValidateStreamURL(manifest); err != nil {
		return models.StreamInfo{}, err
	}

	info := models.StreamInfo{
		StreamID:    streamID,
		AudioLocale: audioLocale,
		ManifestURL: manifest,
		DRMToken:    resp.Token,
		Subtitles:   make(map[string]models.Subtitle, len(resp.Subtitles)),
		HardSubs:    make(map[string]string, len(resp.HardSubs)),
	}
	if resp.AudioLocale != "" {
		info.AudioLocale = resp.AudioLocale
	}
	for locale, sub := range resp.Subtitles {
		subURL, err := utils.EncodeURLWithSpaces(sub.URL)
		if err != nil {
			return models.StreamInfo{}, fmt.Errorf("subtitle url for %s: %w", locale, err)
		}
		info.Subtitles[locale] = models.Subtitle{Locale: locale, URL: subURL, Format: sub.Format}
	}
	for locale, hs := range resp.HardSubs {
		info.HardSubs[locale] = hs.URL
	}
	if c.subtitle != "" {
		if sub, ok := info.Subtitles[c.subtitle]; ok {
			info.PreferredSubtitle = &sub
		}
	}
	return info, nil
}
