package domain

import "time"

// RawItem is a single entry as produced by a feed source adapter,
// before identity resolution. All fields except Title may be empty.
type RawItem struct {
	GUID      string // source-supplied id, unreliable
	Title     string
	Link      string
	Summary   string
	Published time.Time
}

// NewsItem is a persisted ledger record for a logical news item.
// GUID holds the canonical identity assigned on first sighting and
// stays authoritative even when later sightings carry different keys.
type NewsItem struct {
	ID        int64
	GUID      string
	Title     string
	Link      string
	Feed      string
	Sent      bool
	CreatedAt time.Time
}
