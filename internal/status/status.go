// Package status holds the shared playback state read by the UI.
//
// Each field is synchronized on its own so UI polling never contends with
// audio-side writes on a single lock.
package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// MessageTTL is how long a transient failure message stays visible.
const MessageTTL = 4 * time.Second

// Snapshot is a read-only copy of the playback state handed to the UI.
type Snapshot struct {
	Title        string
	Elapsed      time.Duration
	Duration     time.Duration
	Paused       bool
	Loading      bool
	Volume       int
	TracksPlayed uint64
	Message      string
}

// State is the single process-wide playback state. The zero value is not
// usable; create it with New.
type State struct {
	paused       atomic.Bool
	loading      atomic.Bool
	volume       atomic.Int32
	elapsed      atomic.Int64
	duration     atomic.Int64
	tracksPlayed atomic.Uint64

	titleMu sync.RWMutex
	title   string

	msgMu     sync.Mutex
	message   string
	messageAt time.Time
}

// New creates a State with the given initial volume percent. Loading is set
// until the first track starts.
func New(volume int) *State {
	s := &State{}
	s.volume.Store(int32(volume))
	s.loading.Store(true)
	return s
}

func (s *State) SetTitle(title string) {
	s.titleMu.Lock()
	s.title = title
	s.titleMu.Unlock()
}

func (s *State) Title() string {
	s.titleMu.RLock()
	defer s.titleMu.RUnlock()
	return s.title
}

func (s *State) SetPaused(paused bool)  { s.paused.Store(paused) }
func (s *State) Paused() bool           { return s.paused.Load() }
func (s *State) SetLoading(loading bool) { s.loading.Store(loading) }
func (s *State) Loading() bool          { return s.loading.Load() }

func (s *State) SetVolume(percent int) { s.volume.Store(int32(percent)) }
func (s *State) Volume() int           { return int(s.volume.Load()) }

// SetProgress records the current playback position. Written by the status
// refresh tick, read by the UI.
func (s *State) SetProgress(elapsed, duration time.Duration) {
	s.elapsed.Store(int64(elapsed))
	s.duration.Store(int64(duration))
}

// IncTracksPlayed bumps the session play counter and returns the new total.
func (s *State) IncTracksPlayed() uint64 {
	return s.tracksPlayed.Add(1)
}

func (s *State) TracksPlayed() uint64 {
	return s.tracksPlayed.Load()
}

// SetMessage surfaces a transient status message; it disappears from
// snapshots after MessageTTL.
func (s *State) SetMessage(msg string) {
	s.msgMu.Lock()
	s.message = msg
	s.messageAt = time.Now()
	s.msgMu.Unlock()
}

func (s *State) currentMessage() string {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	if s.message == "" || time.Since(s.messageAt) > MessageTTL {
		return ""
	}
	return s.message
}

// Snapshot returns a consistent-enough copy for display. Fields are read
// independently; a snapshot taken mid-transition may mix old and new values
// for one frame, which is acceptable for a UI refresh.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Title:        s.Title(),
		Elapsed:      time.Duration(s.elapsed.Load()),
		Duration:     time.Duration(s.duration.Load()),
		Paused:       s.paused.Load(),
		Loading:      s.loading.Load(),
		Volume:       int(s.volume.Load()),
		TracksPlayed: s.tracksPlayed.Load(),
		Message:      s.currentMessage(),
	}
}
