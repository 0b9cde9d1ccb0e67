// Package catalog provides the track resolver for the remote catalog listing.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/driftaudio/lofi-cli/internal/track"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const (
	// DefaultURL is the catalog listing scraped when no alternate source
	// is configured.
	DefaultURL = "https://lofigirl.com/wp-content/uploads/"

	requestTimeout = 30 * time.Second
)

// ErrUnavailable is returned when the catalog listing cannot be retrieved
// or no track identifiers can be parsed from it.
var ErrUnavailable = errors.New("catalog unavailable")

// ListingCache is the disk fallback for the last good listing.
type ListingCache interface {
	GetListing(url string) []string
	SaveListing(url string, ids []string) error
}

// Resolver selects random tracks from a remote catalog listing. The listing
// is fetched once and kept for the session; it is re-fetched only after an
// explicit Invalidate.
type Resolver struct {
	client    *resty.Client
	baseURL   string
	diskCache ListingCache

	mu  sync.RWMutex
	ids []string
}

// NewResolver creates a Resolver for the given catalog URL. diskCache may
// be nil, in which case no disk fallback is used.
func NewResolver(baseURL string, diskCache ListingCache) *Resolver {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Resolver{
		client: resty.New().
			SetTimeout(requestTimeout),
		baseURL:   baseURL,
		diskCache: diskCache,
	}
}

// BaseURL returns the catalog URL this resolver scrapes.
func (r *Resolver) BaseURL() string {
	return r.baseURL
}

// Resolve picks one track identifier uniformly at random from the catalog.
// The same track may recur; no repetition guarantee is made.
func (r *Resolver) Resolve(ctx context.Context) (track.Track, error) {
	ids, err := r.listing(ctx)
	if err != nil {
		return track.Track{}, err
	}

	id := ids[rand.IntN(len(ids))]
	t := track.New(id)
	log.Debug().Str("play_id", t.PlayID).Str("track", t.ID).Msg("Resolved track")
	return t, nil
}

// TrackCount returns the number of currently discovered identifiers.
func (r *Resolver) TrackCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Invalidate drops the in-memory listing so the next Resolve re-fetches it.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.ids = nil
	r.mu.Unlock()
	log.Debug().Msg("Catalog listing invalidated")
}

// TrackURL returns the absolute download URL for a track identifier.
func (r *Resolver) TrackURL(id string) string {
	if strings.Contains(id, "://") {
		return id
	}
	return r.baseURL + strings.TrimPrefix(id, "/")
}

func (r *Resolver) listing(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	ids := r.ids
	r.mu.RUnlock()

	if len(ids) > 0 {
		return ids, nil
	}

	return r.refresh(ctx)
}

func (r *Resolver) refresh(ctx context.Context) ([]string, error) {
	ids, err := r.fetchListing(ctx)
	if err != nil {
		if r.diskCache != nil {
			if cached := r.diskCache.GetListing(r.baseURL); len(cached) > 0 {
				log.Warn().Err(err).Int("count", len(cached)).Msg("Catalog unreachable, using cached listing")
				r.mu.Lock()
				r.ids = cached
				r.mu.Unlock()
				return cached, nil
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.mu.Lock()
	r.ids = ids
	r.mu.Unlock()

	if r.diskCache != nil {
		if err := r.diskCache.SaveListing(r.baseURL, ids); err != nil {
			log.Debug().Err(err).Msg("Failed to cache catalog listing")
		}
	}

	log.Debug().Int("count", len(ids)).Msg("Catalog listing loaded")
	return ids, nil
}

func (r *Resolver) fetchListing(ctx context.Context) ([]string, error) {
	resp, err := r.client.R().SetContext(ctx).Get(r.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog listing: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode(), resp.Status())
	}

	ids := parseListing(resp.Body())
	if len(ids) == 0 {
		return nil, errors.New("no track identifiers found in catalog listing")
	}

	return ids, nil
}

// parseListing extracts track identifiers from a listing page. Anchor hrefs
// pointing at audio files are collected; when the page contains no such
// anchors, the body is treated as a plain-text list, one identifier per line.
func parseListing(body []byte) []string {
	ids := parseAnchors(body)
	if len(ids) > 0 {
		return ids
	}
	return parseLines(string(body))
}

func parseAnchors(body []byte) []string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		// html.Parse recovers from almost anything; a hard error means
		// the body is not markup at all.
		return nil
	}

	var ids []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if href := strings.TrimSpace(attr.Val); isAudioPath(href) {
					ids = append(ids, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return ids
}

func parseLines(body string) []string {
	var ids []string
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); isAudioPath(line) {
			ids = append(ids, line)
		}
	}
	return ids
}

func isAudioPath(p string) bool {
	return p != "" && strings.HasSuffix(strings.ToLower(p), ".mp3")
}
