// Package player drives the system audio output device for one track at a
// time.
package player

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/driftaudio/lofi-cli/internal/track"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSampleRate   = beep.SampleRate(44100)
	SpeakerBufferSize   = time.Millisecond * 250
	ResampleQuality     = 4
	VolumeCurveExponent = 0.5
	MinVolumeDB         = -10.0
)

// ErrDecodeFailed reports an unusable audio payload. The pipeline treats it
// like a fetch failure and substitutes a different track.
var ErrDecodeFailed = errors.New("decode failed")

// DeviceError reports that the audio output device was lost or could not be
// acquired. It is fatal for the session.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio output device error: %v", e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Player decodes buffered tracks and streams them to the output device.
// At most one track is bound to the device at any instant; binding a new
// track first releases the previous one. All methods are safe for use from
// one task at a time; the device handle itself is never exposed.
type Player struct {
	mu            sync.Mutex
	deviceOpen    bool
	volumePercent int

	streamer   beep.StreamSeekCloser
	sampleRate beep.SampleRate
	volume     *effects.Volume
	ctrl       *beep.Ctrl
	bound      bool
	paused     bool
	done       chan struct{}
	doneOnce   sync.Once
}

// NewPlayer creates a Player. Open must be called before the first Play.
func NewPlayer(volumePercent int) *Player {
	return &Player{
		volumePercent: volumePercent,
	}
}

// Open acquires the default system output device. Failure here is a startup
// error; the process cannot play anything without the device.
func (p *Player) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deviceOpen {
		return nil
	}

	if err := speaker.Init(DefaultSampleRate, DefaultSampleRate.N(SpeakerBufferSize)); err != nil {
		return &DeviceError{Err: err}
	}
	p.deviceOpen = true
	log.Debug().Int("sample_rate", int(DefaultSampleRate)).Dur("buffer", SpeakerBufferSize).
		Msg("Audio output device acquired")

	return nil
}

// Close releases the output device.
func (p *Player) Close() {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deviceOpen {
		speaker.Close()
		p.deviceOpen = false
		log.Debug().Msg("Audio output device released")
	}
}

// Play decodes a buffered track and binds it to the output device. Any
// previous binding is released first. The returned channel is closed when
// the track plays to completion; it is also closed by Stop so waiters never
// hang on a discarded track.
func (p *Player) Play(buf *track.Buffered) (<-chan struct{}, error) {
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(buf.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.deviceOpen {
		streamer.Close()
		return nil, &DeviceError{Err: errors.New("output device not open")}
	}

	var source beep.Streamer = streamer
	if format.SampleRate != DefaultSampleRate {
		source = beep.Resample(ResampleQuality, format.SampleRate, DefaultSampleRate, streamer)
	}

	p.volume = &effects.Volume{
		Streamer: source,
		Base:     2,
		Volume:   percentToExponent(float64(p.volumePercent)),
		Silent:   p.volumePercent == 0,
	}
	p.ctrl = &beep.Ctrl{Streamer: p.volume}

	p.streamer = streamer
	p.sampleRate = format.SampleRate
	p.bound = true
	p.paused = false
	p.done = make(chan struct{})
	p.doneOnce = sync.Once{}

	done := p.done
	speaker.Play(beep.Seq(p.ctrl, beep.Callback(func() {
		p.signalDone(done)
	})))

	log.Debug().Str("play_id", buf.Track.PlayID).Str("track", buf.Track.Title).
		Dur("duration", format.SampleRate.D(streamer.Len())).
		Msg("Track bound to output device")

	return done, nil
}

func (p *Player) signalDone(done chan struct{}) {
	p.doneOnce.Do(func() {
		close(done)
	})
}

// Stop releases the current binding, discarding any remaining playback.
// Safe to call when nothing is bound.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.bound {
		return
	}

	speaker.Clear()
	if p.streamer != nil {
		if err := p.streamer.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close track streamer")
		}
	}
	if p.done != nil {
		p.signalDone(p.done)
	}

	p.streamer = nil
	p.ctrl = nil
	p.volume = nil
	p.bound = false
	p.paused = false

	log.Debug().Msg("Track unbound from output device")
}

// Pause suspends output without releasing the track.
func (p *Player) Pause() {
	p.setPaused(true)
}

// Resume continues output after a Pause.
func (p *Player) Resume() {
	p.setPaused(false)
}

func (p *Player) setPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctrl == nil || p.paused == paused {
		return
	}

	speaker.Lock()
	p.ctrl.Paused = paused
	speaker.Unlock()
	p.paused = paused
}

// IsPaused reports whether output is currently suspended.
func (p *Player) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsBound reports whether a track is currently bound to the device.
func (p *Player) IsBound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bound
}

// SetVolume applies a volume percent (0-100) to the current and all future
// bindings.
func (p *Player) SetVolume(volumePercent int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.volumePercent = volumePercent

	if p.volume == nil {
		log.Debug().Int("volume", volumePercent).Msg("Volume stored for next track")
		return
	}

	volumeLevel := percentToExponent(float64(volumePercent))

	speaker.Lock()
	p.volume.Volume = volumeLevel
	p.volume.Silent = volumePercent == 0
	speaker.Unlock()

	log.Debug().Int("volume", volumePercent).Float64("db", volumeLevel).Msg("Volume applied")
}

// Volume returns the current volume percent.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volumePercent
}

// Progress returns the elapsed position and total duration of the bound
// track. Both are zero when nothing is bound.
func (p *Player) Progress() (elapsed, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.bound || p.streamer == nil {
		return 0, 0
	}

	speaker.Lock()
	pos := p.streamer.Position()
	length := p.streamer.Len()
	speaker.Unlock()

	return p.sampleRate.D(pos), p.sampleRate.D(length)
}

func percentToExponent(p float64) float64 {
	if p <= 0 {
		return MinVolumeDB
	}
	if p >= 100 {
		return 0
	}

	normalized := p / 100.0
	adjusted := math.Pow(normalized, VolumeCurveExponent)
	return (1.0 - adjusted) * MinVolumeDB
}
