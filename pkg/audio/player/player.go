// Package player provides local PCM audio playback on top of the oto library.
// It implements the sink interface the synthesis engines stream into.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1

	// drainPollInterval is how often Flush checks whether oto has finished
	// draining its buffer.
	drainPollInterval = 10 * time.Millisecond
)

// Player plays raw 16-bit little-endian PCM through the system audio device.
// The oto context is process-global, so create one Player and share it.
type Player struct {
	ctx *oto.Context

	mu     sync.Mutex
	active *oto.Player // currently playing, nil when idle
	pipe   *io.PipeWriter
}

// Option is a functional option for configuring a Player.
type Option func(*options)

type options struct {
	sampleRate int
	channels   int
}

// WithSampleRate sets the playback sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(o *options) { o.sampleRate = rate }
}

// WithChannels sets the channel count. Defaults to mono.
func WithChannels(n int) Option {
	return func(o *options) { o.channels = n }
}

// New initializes the system audio context and returns a Player. It blocks
// until the audio device is ready.
func New(opts ...Option) (*Player, error) {
	o := options{sampleRate: defaultSampleRate, channels: defaultChannels}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   o.sampleRate,
		ChannelCount: o.channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("player: init audio context: %w", err)
	}
	<-ready

	return &Player{ctx: ctx}, nil
}

// Write streams a chunk of PCM into the active playback pipeline, starting
// one if none is active. It blocks while oto's buffer is full, which paces
// the producer to real-time playback.
func (p *Player) Write(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.active == nil {
		pr, pw := io.Pipe()
		p.pipe = pw
		p.active = p.ctx.NewPlayer(pr)
		p.active.Play()
	}
	pw := p.pipe
	p.mu.Unlock()

	if _, err := pw.Write(pcm); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return errors.New("player: playback was stopped")
		}
		return fmt.Errorf("player: write: %w", err)
	}
	return nil
}

// Flush closes the current playback pipeline and blocks until everything
// written so far has been played or ctx is cancelled.
func (p *Player) Flush(ctx context.Context) error {
	p.mu.Lock()
	active := p.active
	pw := p.pipe
	p.active = nil
	p.pipe = nil
	p.mu.Unlock()

	if active == nil {
		return nil
	}
	_ = pw.Close()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for active.IsPlaying() {
		select {
		case <-ctx.Done():
			_ = active.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return active.Close()
}

// Stop interrupts playback immediately, discarding buffered audio. Safe to
// call concurrently and when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	active := p.active
	pw := p.pipe
	p.active = nil
	p.pipe = nil
	p.mu.Unlock()

	if active != nil {
		_ = pw.CloseWithError(io.ErrClosedPipe)
		active.Pause()
		_ = active.Close()
	}
}
