package gateway

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/gerontovoice/speechkit/pkg/engine/capture"
)

// feedBuffer bounds how many client audio frames queue before the oldest are
// dropped. A browser sending 100 ms frames fills this in ~6 seconds of total
// consumer stall; dropping old audio is better than stalling the socket.
const feedBuffer = 64

// pcmFeed adapts PCM frames arriving over the websocket into a
// [capture.Engine] so the speech Manager can pump them into the recognizer
// exactly as it would a local microphone.
//
// A pcmFeed serves one connection: Open hands out the same underlying stream
// each time, so restarting a listening session keeps consuming the live feed.
type pcmFeed struct {
	mu     sync.Mutex
	frames chan []byte
	rest   []byte
	gain   float64
	closed bool
}

func newPCMFeed() *pcmFeed {
	return &pcmFeed{
		frames: make(chan []byte, feedBuffer),
		gain:   1,
	}
}

// Push queues one frame of 16-bit little-endian PCM from the client. When the
// queue is full the oldest frame is dropped so real-time audio never backs up
// into the websocket read loop. The mutex is held across the send so a
// concurrent Shutdown cannot close the channel mid-Push; the send itself never
// blocks, it drops the oldest frame instead.
func (f *pcmFeed) Push(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	for {
		select {
		case f.frames <- frame:
			return
		default:
			select {
			case <-f.frames:
			default:
			}
		}
	}
}

// Open implements [capture.Engine]. Constraints are accepted as-is: the
// client controls the actual capture pipeline in the browser.
func (f *pcmFeed) Open(_ context.Context, _ capture.Constraints) (capture.Stream, error) {
	return f, nil
}

// Read implements [capture.Stream], blocking until client audio arrives or
// the feed is closed.
func (f *pcmFeed) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.rest) > 0 {
		n := copy(p, f.rest)
		f.rest = f.rest[n:]
		gain := f.gain
		f.mu.Unlock()
		applyGain(p[:n], gain)
		return n, nil
	}
	f.mu.Unlock()

	frame, ok := <-f.frames
	if !ok {
		return 0, io.EOF
	}

	n := copy(p, frame)
	f.mu.Lock()
	if n < len(frame) {
		f.rest = frame[n:]
	}
	gain := f.gain
	f.mu.Unlock()
	applyGain(p[:n], gain)
	return n, nil
}

// SetGain implements [capture.Stream].
func (f *pcmFeed) SetGain(g float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gain = min(max(g, 0), 1)
}

// Close implements [capture.Stream]. The Manager closes the stream on every
// session exit; the feed stays reusable for the next start on the same
// connection, so Close only drains, it does not poison the feed. Shutdown
// closes the feed for good when the websocket ends.
func (f *pcmFeed) Close() error {
	return nil
}

// Shutdown ends the feed permanently. Blocked Reads return io.EOF.
func (f *pcmFeed) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.frames)
}

// applyGain scales 16-bit little-endian samples in place.
func applyGain(pcm []byte, gain float64) {
	if gain >= 1 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		scaled := float64(s) * gain
		switch {
		case scaled > math.MaxInt16:
			scaled = math.MaxInt16
		case scaled < math.MinInt16:
			scaled = math.MinInt16
		}
		v := int16(scaled)
		pcm[i] = byte(uint16(v))
		pcm[i+1] = byte(uint16(v) >> 8)
	}
}

var _ capture.Engine = (*pcmFeed)(nil)
var _ capture.Stream = (*pcmFeed)(nil)
