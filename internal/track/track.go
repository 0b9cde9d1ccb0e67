// Package track defines the data structures for playable catalog tracks.
package track

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Track is one playable audio item selected from the catalog.
type Track struct {
	// ID is the catalog identifier, a URL or a path relative to the
	// catalog base.
	ID string
	// Title is the human-readable name derived from the identifier.
	Title string
	// PlayID correlates log lines across resolve, fetch and playback.
	PlayID string
	// Duration is known only once decoding begins; zero before then.
	Duration time.Duration
}

// New builds a Track for a catalog identifier.
func New(id string) Track {
	return Track{
		ID:     id,
		Title:  TitleFromID(id),
		PlayID: uuid.NewString(),
	}
}

// Buffered is a Track together with its fully fetched raw audio bytes,
// ready for decoding. Owned by the pipeline until handed to the sink.
type Buffered struct {
	Track Track
	Data  []byte
}

// TitleFromID derives a display title from a catalog identifier.
// "2021/05/Artist-Song-Name.mp3" becomes "Artist Song Name".
func TitleFromID(id string) string {
	name := id
	if decoded, err := url.PathUnescape(id); err == nil {
		name = decoded
	}

	name = path.Base(strings.TrimSuffix(name, "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")

	if name == "" {
		return "Unknown Track"
	}
	return name
}
