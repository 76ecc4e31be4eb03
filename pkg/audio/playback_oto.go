package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// otoDeviceBuffer keeps the device-side latency low; larger values survive
// scheduling jitter better, smaller values make interruption feel snappier.
const otoDeviceBuffer = 100 * time.Millisecond

// otoDevice is the speaker-backed playback device. oto uses a pull model, so
// the device keeps an internal byte buffer the player reads from; Reset
// drops that buffer and tears the player down so stale audio cannot leak
// past an interruption.
type otoDevice struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	player  *oto.Player
	buf     []byte
	playing bool
	closed  bool
}

func newOtoDevice(sampleRate int) (*otoDevice, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   otoDeviceBuffer,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	d := &otoDevice{otoCtx: ctx}
	d.cond = sync.NewCond(&d.mu)
	return d, nil
}

func (d *otoDevice) Write(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("speaker is closed")
	}

	d.buf = append(d.buf, pcm...)

	// The player is created lazily on first audio so an idle session never
	// spins the device.
	if !d.playing {
		d.playing = true
		d.player = d.otoCtx.NewPlayer(d)
		d.player.Play()
	}
	d.cond.Signal()
	return nil
}

// Read implements io.Reader for oto's pull loop.
func (d *otoDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.buf) == 0 && !d.closed && d.playing {
		d.cond.Wait()
	}
	if (d.closed || !d.playing) && len(d.buf) == 0 {
		// Feed silence so oto drains gracefully instead of erroring.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}

// Reset discards buffered audio and stops the current player so the next
// Write starts fresh with nothing stale ahead of it.
func (d *otoDevice) Reset() {
	d.mu.Lock()
	d.buf = d.buf[:0]
	if d.player == nil || !d.playing {
		d.mu.Unlock()
		return
	}
	player := d.player
	d.player = nil
	d.playing = false
	d.cond.Broadcast()
	d.mu.Unlock()

	player.Pause()
	player.Close()
}

func (d *otoDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	player := d.player
	d.player = nil
	d.cond.Broadcast()
	d.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}
