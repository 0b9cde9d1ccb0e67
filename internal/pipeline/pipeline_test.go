package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/driftaudio/lofi-cli/internal/player"
	"github.com/driftaudio/lofi-cli/internal/status"
	"github.com/driftaudio/lofi-cli/internal/track"
)

type fakeResolver struct {
	mu            sync.Mutex
	ids           []string
	next          int
	failuresLeft  int
	invalidations int
}

func (r *fakeResolver) Resolve(_ context.Context) (track.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failuresLeft > 0 {
		r.failuresLeft--
		return track.Track{}, errors.New("catalog unavailable")
	}

	id := r.ids[r.next%len(r.ids)]
	r.next++
	return track.New(id), nil
}

func (r *fakeResolver) Invalidate() {
	r.mu.Lock()
	r.invalidations++
	r.mu.Unlock()
}

func (r *fakeResolver) invalidationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invalidations
}

type fakeFetcher struct {
	mu       sync.Mutex
	failFor  map[string]bool
	blockFor map[string]chan struct{} // Fetch waits on the channel for that ID
}

func (f *fakeFetcher) Fetch(ctx context.Context, t track.Track) (*track.Buffered, error) {
	f.mu.Lock()
	blocked := f.blockFor[t.ID]
	fail := f.failFor[t.ID]
	f.mu.Unlock()

	if blocked != nil {
		select {
		case <-blocked:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, fmt.Errorf("fetch failed for %q", t.ID)
	}

	return &track.Buffered{Track: t, Data: []byte("audio:" + t.ID)}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	playing  *track.Buffered
	done     chan struct{}
	paused   bool
	plays    []string
	stops    int
	volumes  []int
	playErrs map[string]error
}

func (s *fakeSink) Play(buf *track.Buffered) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.playErrs[buf.Track.ID]; err != nil {
		return nil, err
	}

	// Rebinding releases the previous track first.
	if s.playing != nil {
		s.closeDoneLocked()
	}

	s.playing = buf
	s.paused = false
	s.done = make(chan struct{})
	s.plays = append(s.plays, buf.Track.ID)
	return s.done, nil
}

func (s *fakeSink) closeDoneLocked() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.playing = nil
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stops++
	if s.playing != nil {
		s.closeDoneLocked()
	}
	s.paused = false
}

func (s *fakeSink) Pause()  { s.mu.Lock(); s.paused = true; s.mu.Unlock() }
func (s *fakeSink) Resume() { s.mu.Lock(); s.paused = false; s.mu.Unlock() }

func (s *fakeSink) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *fakeSink) SetVolume(percent int) {
	s.mu.Lock()
	s.volumes = append(s.volumes, percent)
	s.mu.Unlock()
}

func (s *fakeSink) Progress() (time.Duration, time.Duration) {
	return 0, 0
}

// finishCurrent simulates the bound track playing to completion.
func (s *fakeSink) finishCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing != nil {
		s.closeDoneLocked()
	}
}

func (s *fakeSink) playOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.plays...)
}

type harness struct {
	resolver *fakeResolver
	fetcher  *fakeFetcher
	sink     *fakeSink
	state    *status.State
	pipe     *Pipeline
	runErr   chan error
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, resolver *fakeResolver, fetcher *fakeFetcher, sink *fakeSink) *harness {
	t.Helper()

	state := status.New(50)
	pipe := New(resolver, fetcher, sink, state)
	pipe.tickInterval = 10 * time.Millisecond
	pipe.retryPause = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		resolver: resolver,
		fetcher:  fetcher,
		sink:     sink,
		state:    state,
		pipe:     pipe,
		runErr:   make(chan error, 1),
		cancel:   cancel,
	}

	go func() {
		h.runErr <- pipe.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runErr:
		case <-time.After(2 * time.Second):
			t.Error("Pipeline did not stop on context cancellation")
		}
	})

	return h
}

func (h *harness) quit(t *testing.T) error {
	t.Helper()
	h.pipe.Submit(Command{Kind: CmdQuit})
	select {
	case err := <-h.runErr:
		h.runErr <- err
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Pipeline did not quit")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestPlaysFirstResolvedTrack(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3"}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	waitFor(t, "first track to play", func() bool {
		return len(sink.playOrder()) >= 1
	})

	snap := h.state.Snapshot()
	if snap.Loading {
		t.Error("State should not report loading while a track plays")
	}
	if snap.Title != "a" {
		t.Errorf("Title = %q, want %q", snap.Title, "a")
	}
	if snap.TracksPlayed != 1 {
		t.Errorf("TracksPlayed = %d, want 1", snap.TracksPlayed)
	}

	if err := h.quit(t); err != nil {
		t.Errorf("Run() = %v, want nil on quit", err)
	}
}

func TestGaplessAdvance(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3", "b.mp3", "c.mp3"}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	waitFor(t, "first track", func() bool { return len(sink.playOrder()) >= 1 })

	// Let the background prefetch of the next track land in the handoff
	// slot before finishing the current one.
	waitFor(t, "prefetch of next track", func() bool { return len(h.pipe.nextCh) == 1 })

	sink.finishCurrent()

	waitFor(t, "second track", func() bool { return len(sink.playOrder()) >= 2 })

	order := sink.playOrder()
	if order[0] != "a.mp3" || order[1] != "b.mp3" {
		t.Errorf("Play order = %v, want [a.mp3 b.mp3]", order)
	}

	snap := h.state.Snapshot()
	if snap.Loading {
		t.Error("Gapless advance must not pass through a loading state")
	}
	if snap.TracksPlayed != 2 {
		t.Errorf("TracksPlayed = %d, want 2", snap.TracksPlayed)
	}
}

func TestFetchFailureSubstitutesTrack(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"x.mp3", "y.mp3"}}
	fetcher := &fakeFetcher{failFor: map[string]bool{"x.mp3": true}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, fetcher, sink)

	waitFor(t, "substitute track to play", func() bool {
		order := sink.playOrder()
		return len(order) >= 1 && order[0] == "y.mp3"
	})

	if msg := h.state.Snapshot().Message; msg == "" {
		t.Error("A transient failure message should be surfaced")
	}

	if err := h.quit(t); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestCatalogFailureRecovers(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3"}, failuresLeft: 2}
	sink := &fakeSink{}
	newHarness(t, resolver, &fakeFetcher{}, sink)

	waitFor(t, "track to play after catalog recovery", func() bool {
		return len(sink.playOrder()) >= 1
	})

	if got := resolver.invalidationCount(); got != 2 {
		t.Errorf("Listing invalidated %d times, want 2", got)
	}
}

func TestSkipAdvances(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3", "b.mp3", "c.mp3"}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	waitFor(t, "first track", func() bool { return len(sink.playOrder()) >= 1 })
	waitFor(t, "prefetch of next track", func() bool { return len(h.pipe.nextCh) == 1 })

	h.pipe.Submit(Command{Kind: CmdSkip})

	waitFor(t, "skip to advance", func() bool { return len(sink.playOrder()) >= 2 })

	order := sink.playOrder()
	if order[1] != "b.mp3" {
		t.Errorf("Skip advanced to %q, want b.mp3", order[1])
	}
}

func TestSkipIdempotentWhileInFlight(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3", "b.mp3", "c.mp3"}}
	// The replacement track's fetch stays blocked so both skips land while
	// it is still in flight.
	release := make(chan struct{})
	fetcher := &fakeFetcher{blockFor: map[string]chan struct{}{"b.mp3": release}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, fetcher, sink)

	waitFor(t, "first track", func() bool { return len(sink.playOrder()) >= 1 })

	h.pipe.Submit(Command{Kind: CmdSkip})
	h.pipe.Submit(Command{Kind: CmdSkip})

	time.Sleep(30 * time.Millisecond)
	close(release)

	waitFor(t, "replacement track", func() bool { return len(sink.playOrder()) >= 2 })

	// Give a second, wrongly honored skip time to show up.
	time.Sleep(50 * time.Millisecond)

	if got := len(sink.playOrder()); got != 2 {
		t.Errorf("Double skip changed tracks %d times, want exactly 1 change (2 plays): %v",
			got-1, sink.playOrder())
	}
}

func TestCommandOrdering(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3"}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	waitFor(t, "first track", func() bool { return len(sink.playOrder()) >= 1 })

	h.pipe.Submit(Command{Kind: CmdVolumeUp})
	h.pipe.Submit(Command{Kind: CmdVolumeUp})
	h.pipe.Submit(Command{Kind: CmdVolumeDown})

	waitFor(t, "volume commands to apply", func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.volumes) >= 3
	})

	sink.mu.Lock()
	volumes := append([]int(nil), sink.volumes...)
	sink.mu.Unlock()

	expected := []int{55, 60, 55}
	for i, v := range expected {
		if volumes[i] != v {
			t.Errorf("volumes[%d] = %d, want %d (ordering violated: %v)", i, volumes[i], v, volumes)
		}
	}

	if got := h.state.Volume(); got != 55 {
		t.Errorf("Final volume = %d, want 55", got)
	}
}

func TestVolumeSetAndClamp(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3"}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	h.pipe.Submit(Command{Kind: CmdVolumeSet, Value: 150})

	waitFor(t, "volume clamp", func() bool { return h.state.Volume() == 100 })

	h.pipe.Submit(Command{Kind: CmdVolumeSet, Value: -20})

	waitFor(t, "volume floor", func() bool { return h.state.Volume() == 0 })
}

func TestTogglePause(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3"}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	waitFor(t, "first track", func() bool { return len(sink.playOrder()) >= 1 })

	h.pipe.Submit(Command{Kind: CmdTogglePause})
	waitFor(t, "pause", func() bool { return h.state.Paused() && sink.IsPaused() })

	h.pipe.Submit(Command{Kind: CmdTogglePause})
	waitFor(t, "resume", func() bool { return !h.state.Paused() && !sink.IsPaused() })
}

func TestDecodeFailureSubstitutesTrack(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"bad.mp3", "good.mp3"}}
	sink := &fakeSink{
		playErrs: map[string]error{
			"bad.mp3": fmt.Errorf("%w: corrupt frame", player.ErrDecodeFailed),
		},
	}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	waitFor(t, "substitute after decode failure", func() bool {
		for _, id := range sink.playOrder() {
			if id == "good.mp3" {
				return true
			}
		}
		return false
	})

	if err := h.quit(t); err != nil {
		t.Errorf("Run() = %v, want nil after decode recovery", err)
	}
}

func TestDeviceErrorIsFatal(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3"}}
	sink := &fakeSink{
		playErrs: map[string]error{
			"a.mp3": &player.DeviceError{Err: errors.New("device lost")},
		},
	}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	select {
	case err := <-h.runErr:
		var devErr *player.DeviceError
		if !errors.As(err, &devErr) {
			t.Errorf("Run() = %v, want *player.DeviceError", err)
		}
		h.runErr <- nil // keep cleanup happy
	case <-time.After(2 * time.Second):
		t.Fatal("Run() should terminate on a device error")
	}
}

func TestQuitStopsSink(t *testing.T) {
	resolver := &fakeResolver{ids: []string{"a.mp3"}}
	sink := &fakeSink{}
	h := newHarness(t, resolver, &fakeFetcher{}, sink)

	waitFor(t, "first track", func() bool { return len(sink.playOrder()) >= 1 })

	if err := h.quit(t); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.stops == 0 {
		t.Error("Quit should release the sink binding")
	}
	if sink.playing != nil {
		t.Error("No track should remain bound after quit")
	}
}

func TestCommandKindString(t *testing.T) {
	tests := []struct {
		kind     CommandKind
		expected string
	}{
		{CmdTogglePause, "toggle-pause"},
		{CmdSkip, "skip"},
		{CmdVolumeUp, "volume-up"},
		{CmdVolumeDown, "volume-down"},
		{CmdVolumeSet, "volume-set"},
		{CmdQuit, "quit"},
		{CommandKind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
