// Package pipeline orchestrates resolving, fetching and playing tracks so
// the next track is ready before the current one ends.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/driftaudio/lofi-cli/internal/config"
	"github.com/driftaudio/lofi-cli/internal/player"
	"github.com/driftaudio/lofi-cli/internal/status"
	"github.com/driftaudio/lofi-cli/internal/track"
	"github.com/rs/zerolog/log"
)

const (
	// CommandQueueSize bounds the command channel between the UI and the
	// driver.
	CommandQueueSize = 16
	// DefaultVolumeStep is the coarse volume increment.
	DefaultVolumeStep = 5
	// MaxSubstitutes bounds how many replacement tracks one prefetch run
	// tries before reporting failure to the driver.
	MaxSubstitutes = 5

	defaultTickInterval = 250 * time.Millisecond
	defaultRetryPause   = 2 * time.Second
)

// CommandKind tags a user intent.
type CommandKind int

const (
	CmdTogglePause CommandKind = iota
	CmdSkip
	CmdVolumeUp
	CmdVolumeDown
	CmdVolumeSet
	CmdQuit
)

func (k CommandKind) String() string {
	switch k {
	case CmdTogglePause:
		return "toggle-pause"
	case CmdSkip:
		return "skip"
	case CmdVolumeUp:
		return "volume-up"
	case CmdVolumeDown:
		return "volume-down"
	case CmdVolumeSet:
		return "volume-set"
	case CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is a discrete user intent, consumed at most once by the driver.
// Value is the step for CmdVolumeUp/CmdVolumeDown (0 means the default
// step) and the target percent for CmdVolumeSet.
type Command struct {
	Kind  CommandKind
	Value int
}

// Resolver selects the next track identifier from the catalog.
type Resolver interface {
	Resolve(ctx context.Context) (track.Track, error)
	Invalidate()
}

// Fetcher retrieves the raw audio payload for a track.
type Fetcher interface {
	Fetch(ctx context.Context, t track.Track) (*track.Buffered, error)
}

// Sink decodes buffered tracks and drives the output device. Exactly one
// track is bound at a time; Play releases the previous binding.
type Sink interface {
	Play(buf *track.Buffered) (<-chan struct{}, error)
	Stop()
	Pause()
	Resume()
	IsPaused() bool
	SetVolume(percent int)
	Progress() (elapsed, duration time.Duration)
}

type prefetchResult struct {
	buf *track.Buffered
	err error
}

// Pipeline is the playback state machine. A single driver goroutine (Run)
// consumes commands and prefetch results; background prefetch goroutines
// hand completed buffers over through a single-slot channel.
type Pipeline struct {
	resolver Resolver
	fetcher  Fetcher
	sink     Sink
	state    *status.State

	cmds   chan Command
	nextCh chan prefetchResult

	tickInterval time.Duration
	retryPause   time.Duration

	skipInFlight bool
}

// New creates a Pipeline over the given collaborators.
func New(resolver Resolver, fetcher Fetcher, sink Sink, state *status.State) *Pipeline {
	return &Pipeline{
		resolver:     resolver,
		fetcher:      fetcher,
		sink:         sink,
		state:        state,
		cmds:         make(chan Command, CommandQueueSize),
		nextCh:       make(chan prefetchResult, 1),
		tickInterval: defaultTickInterval,
		retryPause:   defaultRetryPause,
	}
}

// Submit queues a command for the driver. Commands are applied in arrival
// order and never coalesced.
func (p *Pipeline) Submit(cmd Command) {
	p.cmds <- cmd
}

// Run drives playback until a Quit command or context cancellation. It
// returns nil on Quit and a *player.DeviceError if the output device is
// lost mid-session; track-scoped failures never end the run.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	p.launchPrefetch(runCtx, 0)

	// Closed done channel of the currently bound track; nil while no track
	// is current (Idle, Prefetching, Finishing without a buffered next).
	var currentDone <-chan struct{}

	for {
		// Commands outrank automatic advancement: a queued Skip is applied
		// before a simultaneous track-finished event is observed.
		select {
		case cmd := <-p.cmds:
			quit, err := p.apply(runCtx, cmd, &currentDone)
			if quit || err != nil {
				p.shutdown()
				return err
			}
			continue
		default:
		}

		if currentDone == nil {
			// Waiting for the prefetch handoff; commands and status ticks
			// keep flowing while the promotion blocks.
			select {
			case <-runCtx.Done():
				p.shutdown()
				return runCtx.Err()
			case cmd := <-p.cmds:
				quit, err := p.apply(runCtx, cmd, &currentDone)
				if quit || err != nil {
					p.shutdown()
					return err
				}
			case res := <-p.nextCh:
				done, err := p.promote(runCtx, res)
				if err != nil {
					p.shutdown()
					return err
				}
				currentDone = done
			case <-ticker.C:
				p.refreshProgress()
			}
			continue
		}

		select {
		case <-runCtx.Done():
			p.shutdown()
			return runCtx.Err()
		case cmd := <-p.cmds:
			quit, err := p.apply(runCtx, cmd, &currentDone)
			if quit || err != nil {
				p.shutdown()
				return err
			}
		case <-currentDone:
			currentDone = nil
			log.Debug().Msg("Track finished")

			// Gapless path: promote a ready buffer immediately so status
			// never shows a loading gap between tracks.
			select {
			case res := <-p.nextCh:
				done, err := p.promote(runCtx, res)
				if err != nil {
					p.shutdown()
					return err
				}
				currentDone = done
			default:
				p.state.SetLoading(true)
			}
		case <-ticker.C:
			p.refreshProgress()
		}
	}
}

func (p *Pipeline) shutdown() {
	p.sink.Stop()
	log.Debug().Msg("Pipeline terminated")
}

func (p *Pipeline) refreshProgress() {
	elapsed, duration := p.sink.Progress()
	p.state.SetProgress(elapsed, duration)
}

// apply executes one command. It reports whether the pipeline should quit
// and any fatal error.
func (p *Pipeline) apply(ctx context.Context, cmd Command, currentDone *<-chan struct{}) (bool, error) {
	log.Debug().Str("command", cmd.Kind.String()).Msg("Applying command")

	switch cmd.Kind {
	case CmdTogglePause:
		if *currentDone == nil {
			return false, nil
		}
		if p.sink.IsPaused() {
			p.sink.Resume()
			p.state.SetPaused(false)
		} else {
			p.sink.Pause()
			p.state.SetPaused(true)
		}

	case CmdSkip:
		if p.skipInFlight {
			log.Debug().Msg("Skip already in flight, ignoring")
			return false, nil
		}
		if *currentDone == nil {
			return false, nil
		}
		p.skipInFlight = true
		p.sink.Stop()
		*currentDone = nil
		p.state.SetLoading(true)
		p.state.SetPaused(false)

	case CmdVolumeUp:
		p.changeVolume(cmd.Value, 1)
	case CmdVolumeDown:
		p.changeVolume(cmd.Value, -1)
	case CmdVolumeSet:
		p.setVolume(cmd.Value)

	case CmdQuit:
		return true, nil
	}

	return false, nil
}

func (p *Pipeline) changeVolume(step, direction int) {
	if step == 0 {
		step = DefaultVolumeStep
	}
	p.setVolume(p.state.Volume() + direction*step)
}

func (p *Pipeline) setVolume(percent int) {
	percent = config.ClampVolume(percent)
	p.sink.SetVolume(percent)
	p.state.SetVolume(percent)
}

// promote binds a prefetched buffer as the current track and starts the
// prefetch for the following one. A nil done channel with a nil error means
// the buffer was unusable and a replacement prefetch was launched.
func (p *Pipeline) promote(ctx context.Context, res prefetchResult) (<-chan struct{}, error) {
	if res.err != nil {
		log.Warn().Err(res.err).Msg("Prefetch gave up, retrying")
		p.state.SetMessage("catalog trouble, retrying...")
		p.launchPrefetch(ctx, p.retryPause)
		return nil, nil
	}

	done, err := p.sink.Play(res.buf)
	if err != nil {
		var devErr *player.DeviceError
		if errors.As(err, &devErr) {
			return nil, err
		}

		log.Warn().Err(err).Str("track", res.buf.Track.ID).Msg("Track unplayable, substituting")
		p.state.SetMessage("skipped an unplayable track")
		p.launchPrefetch(ctx, 0)
		return nil, nil
	}

	p.skipInFlight = false
	p.state.SetTitle(res.buf.Track.Title)
	p.state.SetLoading(false)
	p.state.SetPaused(false)
	played := p.state.IncTracksPlayed()

	log.Info().Str("play_id", res.buf.Track.PlayID).Str("track", res.buf.Track.Title).
		Uint64("played", played).Msg("Now playing")

	p.launchPrefetch(ctx, 0)
	return done, nil
}

// launchPrefetch starts a background resolve+fetch for one track. The
// result is handed to the driver through the single-slot channel; only the
// driver ever consumes it.
func (p *Pipeline) launchPrefetch(ctx context.Context, delay time.Duration) {
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}

		res := p.prefetchOne(ctx)
		select {
		case p.nextCh <- res:
		case <-ctx.Done():
		}
	}()
}

// prefetchOne resolves and fetches a track, substituting a freshly resolved
// track on failure up to MaxSubstitutes times. Catalog failures invalidate
// the listing before the retry.
func (p *Pipeline) prefetchOne(ctx context.Context) prefetchResult {
	var lastErr error

	for attempt := 0; attempt < MaxSubstitutes; attempt++ {
		if ctx.Err() != nil {
			return prefetchResult{err: ctx.Err()}
		}

		t, err := p.resolver.Resolve(ctx)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Msg("Resolve failed")
			p.resolver.Invalidate()
			if sleepErr := sleep(ctx, p.retryPause); sleepErr != nil {
				return prefetchResult{err: sleepErr}
			}
			continue
		}

		buf, err := p.fetcher.Fetch(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return prefetchResult{err: ctx.Err()}
			}
			lastErr = err
			log.Warn().Err(err).Str("track", t.ID).Msg("Fetch failed, substituting another track")
			p.state.SetMessage("skipped an unreachable track")
			continue
		}

		return prefetchResult{buf: buf}
	}

	return prefetchResult{err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
