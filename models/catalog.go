package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ParseError reports a response record missing a field required by the
// domain model. It carries enough context to identify the offending record
// without dumping the raw payload.
type ParseError struct {
	Record string // record kind, e.g. "series"
	Field  string // missing or malformed field
	ID     string // record id when known
}

func (e *ParseError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("parse %s %q: missing %s", e.Record, e.ID, e.Field)
	}
	return fmt.Sprintf("parse %s: missing %s", e.Record, e.Field)
}

// Image is a single artwork rendition.
type Image struct {
	Source string `json:"source"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Type   string `json:"type"`
}

// Series is a read-only projection of a catalog series record. Two Series
// values with the same ID from different calls are independent values, not
// cached singletons.
type Series struct {
	ID            string
	Title         string
	Slug          string
	Description   string
	EpisodeCount  int
	SeasonCount   int
	IsSimulcast   bool
	AudioLocales  []string
	Keywords      []string
	Poster        []Image
	PosterWide    []Image
	InWatchlist   bool
	SeriesLaunch  string
	ContentRating string
}

// Season groups episodes of one dub/season combination.
type Season struct {
	ID           string
	SeriesID     string
	Title        string
	SeasonNumber int
	AudioLocales []string
	IsDubbed     bool
	IsSubbed     bool
}

// Version is one audio rendition ("dub") of an episode. Original marks the
// source-language track.
type Version struct {
	GUID        string `json:"guid"`
	AudioLocale string `json:"audio_locale"`
	Original    bool   `json:"original"`
	SeasonGUID  string `json:"season_guid"`
}

// Episode is a read-only projection of a catalog episode record. Duration
// and Versions are backfilled from the batch objects endpoint; the
// season-episodes endpoint alone does not carry them.
type Episode struct {
	ID              string
	SeriesID        string
	SeasonID        string
	Title           string
	Description     string
	Number          int     // position within the season
	SequenceNumber  float64 // fractional for specials
	DurationMS      int64
	AudioLocale     string
	SubtitleLocales []string
	Versions        []Version
	Thumbnail       []Image
	Premium         bool
	AirDate         string
	Playhead        PlayheadRecord
}

// Category is a browse filter tag.
type Category struct {
	ID          string
	Title       string
	Description string
	Images      []Image
}

// Subtitle is one downloadable subtitle track.
type Subtitle struct {
	Locale string `json:"locale"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// StreamInfo is the resolved playback target for one episode: a signed
// manifest, its DRM token, and the subtitle map.
type StreamInfo struct {
	StreamID          string
	AudioLocale       string
	ManifestURL       string
	DRMToken          string
	Subtitles         map[string]Subtitle
	HardSubs          map[string]string // locale -> manifest url
	PreferredSubtitle *Subtitle         // track matching the configured subtitle locale, when available
}

// SkipRange is one skippable span within an episode, in seconds.
type SkipRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SkipEvents holds the skippable spans of an episode. All fields are
// optional; an episode without skip data has the zero value.
type SkipEvents struct {
	Intro   *SkipRange `json:"intro,omitempty"`
	Credits *SkipRange `json:"credits,omitempty"`
	Recap   *SkipRange `json:"recap,omitempty"`
	Preview *SkipRange `json:"preview,omitempty"`
}

// IsEmpty returns true when no skippable span is present.
func (s SkipEvents) IsEmpty() bool {
	return s.Intro == nil && s.Credits == nil && s.Recap == nil && s.Preview == nil
}

// rawSeries mirrors the wire shape of a series panel.
type rawSeries struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Slug           string    `json:"slug_title"`
	Description    string    `json:"description"`
	Images         rawImages `json:"images"`
	SeriesMetadata *struct {
		EpisodeCount    int      `json:"episode_count"`
		SeasonCount     int      `json:"season_count"`
		IsSimulcast     bool     `json:"is_simulcast"`
		AudioLocales    []string `json:"audio_locales"`
		SeriesLaunch    string   `json:"series_launch_year,omitempty"`
		MaturityRatings []string `json:"maturity_ratings"`
	} `json:"series_metadata"`
	Keywords []string `json:"keywords"`
}

type rawImages struct {
	PosterTall [][]Image `json:"poster_tall"`
	PosterWide [][]Image `json:"poster_wide"`
	Thumbnail  [][]Image `json:"thumbnail"`
}

func (r rawImages) firstTall() []Image {
	if len(r.PosterTall) > 0 {
		return r.PosterTall[0]
	}
	return nil
}

func (r rawImages) firstWide() []Image {
	if len(r.PosterWide) > 0 {
		return r.PosterWide[0]
	}
	return nil
}

func (r rawImages) firstThumbnail() []Image {
	if len(r.Thumbnail) > 0 {
		return r.Thumbnail[0]
	}
	return nil
}

// ParseSeries builds a Series from a raw panel, failing fast when required
// fields are absent.
func ParseSeries(data json.RawMessage) (Series, error) {
	var raw rawSeries
	if err := json.Unmarshal(data, &raw); err != nil {
		return Series{}, fmt.Errorf("decode series: %w", err)
	}
	if raw.ID == "" {
		return Series{}, &ParseError{Record: "series", Field: "id"}
	}
	if raw.Title == "" {
		return Series{}, &ParseError{Record: "series", Field: "title", ID: raw.ID}
	}
	s := Series{
		ID:          raw.ID,
		Title:       raw.Title,
		Slug:        raw.Slug,
		Description: raw.Description,
		Keywords:    raw.Keywords,
		Poster:      raw.Images.firstTall(),
		PosterWide:  raw.Images.firstWide(),
	}
	if m := raw.SeriesMetadata; m != nil {
		s.EpisodeCount = m.EpisodeCount
		s.SeasonCount = m.SeasonCount
		s.IsSimulcast = m.IsSimulcast
		s.AudioLocales = m.AudioLocales
		s.SeriesLaunch = m.SeriesLaunch
		if len(m.MaturityRatings) > 0 {
			s.ContentRating = m.MaturityRatings[0]
		}
	}
	return s, nil
}

type rawSeason struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	SeriesID     string   `json:"series_id"`
	SeasonNumber int      `json:"season_number"`
	AudioLocales []string `json:"audio_locales"`
	IsDubbed     bool     `json:"is_dubbed"`
	IsSubbed     bool     `json:"is_subbed"`
}

// ParseSeason builds a Season from a raw record.
func ParseSeason(data json.RawMessage) (Season, error) {
	var raw rawSeason
	if err := json.Unmarshal(data, &raw); err != nil {
		return Season{}, fmt.Errorf("decode season: %w", err)
	}
	if raw.ID == "" {
		return Season{}, &ParseError{Record: "season", Field: "id"}
	}
	if raw.Title == "" {
		return Season{}, &ParseError{Record: "season", Field: "title", ID: raw.ID}
	}
	return Season{
		ID:           raw.ID,
		SeriesID:     raw.SeriesID,
		Title:        raw.Title,
		SeasonNumber: raw.SeasonNumber,
		AudioLocales: raw.AudioLocales,
		IsDubbed:     raw.IsDubbed,
		IsSubbed:     raw.IsSubbed,
	}, nil
}

type rawEpisode struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	SeriesID        string    `json:"series_id"`
	SeasonID        string    `json:"season_id"`
	EpisodeNumber   *int      `json:"episode_number"`
	SequenceNumber  float64   `json:"sequence_number"`
	DurationMS      int64     `json:"duration_ms"`
	AudioLocale     string    `json:"audio_locale"`
	SubtitleLocales []string  `json:"subtitle_locales"`
	Versions        []Version `json:"versions"`
	Images          rawImages `json:"images"`
	IsPremiumOnly   bool      `json:"is_premium_only"`
	EpisodeAirDate  string    `json:"episode_air_date"`
}

// ParseEpisode builds an Episode from a raw record. Episodes without an
// episode_number (specials) keep Number zero and rely on SequenceNumber.
func ParseEpisode(data json.RawMessage) (Episode, error) {
	var raw rawEpisode
	if err := json.Unmarshal(data, &raw); err != nil {
		return Episode{}, fmt.Errorf("decode episode: %w", err)
	}
	if raw.ID == "" {
		return Episode{}, &ParseError{Record: "episode", Field: "id"}
	}
	ep := Episode{
		ID:              raw.ID,
		SeriesID:        raw.SeriesID,
		SeasonID:        raw.SeasonID,
		Title:           raw.Title,
		Description:     raw.Description,
		SequenceNumber:  raw.SequenceNumber,
		DurationMS:      raw.DurationMS,
		AudioLocale:     raw.AudioLocale,
		SubtitleLocales: raw.SubtitleLocales,
		Versions:        raw.Versions,
		Thumbnail:       raw.Images.firstThumbnail(),
		Premium:         raw.IsPremiumOnly,
		AirDate:         raw.EpisodeAirDate,
	}
	if raw.EpisodeNumber != nil {
		ep.Number = *raw.EpisodeNumber
	}
	ep.Playhead = PlayheadRecord{ContentID: raw.ID}
	return ep, nil
}

type rawCategory struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Images      struct {
		Background []Image `json:"background"`
	} `json:"images"`
	Localization *struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"localization"`
}

// ParseCategory builds a Category from a raw record. Localized title wins
// over the canonical one when present.
func ParseCategory(data json.RawMessage) (Category, error) {
	var raw rawCategory
	if err := json.Unmarshal(data, &raw); err != nil {
		return Category{}, fmt.Errorf("decode category: %w", err)
	}
	if raw.ID == "" {
		return Category{}, &ParseError{Record: "category", Field: "id"}
	}
	c := Category{
		ID:          raw.ID,
		Title:       raw.Title,
		Description: raw.Description,
		Images:      raw.Images.Background,
	}
	if raw.Localization != nil && raw.Localization.Title != "" {
		c.Title = raw.Localization.Title
		c.Description = raw.Localization.Description
	}
	if c.Title == "" {
		return Category{}, &ParseError{Record: "category", Field: "title", ID: raw.ID}
	}
	return c, nil
}
