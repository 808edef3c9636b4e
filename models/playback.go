package models

import "time"

// PlayheadRecord is the server-persisted watch position for one content id.
type PlayheadRecord struct {
	ContentID    string    `json:"content_id"`
	Playhead     int64     `json:"playhead"` // seconds
	FullyWatched bool      `json:"fully_watched"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// LookupPlayhead returns the record for the given content id, or a zero
// position for that id when the batch has no entry. An absent playhead means
// the episode was never started, not an error.
func LookupPlayhead(records []PlayheadRecord, contentID string) PlayheadRecord {
	for _, r := range records {
		if r.ContentID == contentID {
			return r
		}
	}
	return PlayheadRecord{ContentID: contentID}
}
