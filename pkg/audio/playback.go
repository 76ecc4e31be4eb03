package audio

import (
	"log/slog"
	"sync"
	"time"
)

// playbackTick is the feeder cadence. Units whose start time has arrived are
// pushed to the device on each tick; the device's own buffer absorbs the
// jitter between ticks.
const playbackTick = 10 * time.Millisecond

// playbackDevice abstracts the output device. Write accepts little-endian
// PCM16 and returns once the data is buffered; Reset discards everything
// buffered but not yet played.
type playbackDevice interface {
	Write(pcm []byte) error
	Reset()
	Close() error
}

// scheduledUnit is one inbound chunk converted to normalized float samples
// plus its computed start time on the pipeline clock. It lives in the
// schedule queue until played or interrupted.
type scheduledUnit struct {
	samples  []float32
	startAt  time.Time
	duration time.Duration
}

// PlaybackOption configures a Playback.
type PlaybackOption func(*Playback)

// WithPlaybackLogger sets the logger.
func WithPlaybackLogger(l *slog.Logger) PlaybackOption {
	return func(p *Playback) {
		if l != nil {
			p.logger = l
		}
	}
}

// withPlaybackDevice injects a fake device in tests.
func withPlaybackDevice(dev playbackDevice) PlaybackOption {
	return func(p *Playback) { p.device = dev }
}

// withPlaybackClock injects a fake clock in tests.
func withPlaybackClock(now func() time.Time) PlaybackOption {
	return func(p *Playback) { p.now = now }
}

// Playback is the audio output pipeline: it schedules inbound chunks
// back-to-back so playback is gapless even when chunks arrive in bursts.
// Scheduling is based on cumulative buffer duration, never wall-clock
// arrival time.
type Playback struct {
	logger     *slog.Logger
	now        func() time.Time
	sampleRate int

	mu         sync.Mutex
	device     playbackDevice
	queue      []scheduledUnit
	nextPlayAt time.Time
	volume     float64
	disposed   bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPlayback creates the output pipeline at 24 kHz mono and starts its
// feeder goroutine.
func NewPlayback(opts ...PlaybackOption) (*Playback, error) {
	p := &Playback{
		logger:     slog.Default(),
		now:        time.Now,
		sampleRate: PlaybackSampleRateHz,
		volume:     1.0,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.device == nil {
		dev, err := newOtoDevice(p.sampleRate)
		if err != nil {
			return nil, err
		}
		p.device = dev
	}
	p.nextPlayAt = p.now()
	go p.run()
	return p, nil
}

// Enqueue converts a PCM16 chunk to normalized float samples and schedules
// it to start at max(nextPlayTime, now), then advances nextPlayTime by the
// chunk's duration. Zero-length chunks and chunks enqueued after Dispose are
// silently ignored.
func (p *Playback) Enqueue(pcm []byte) {
	if len(pcm) < bytesPerSample {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}

	samples := Float32FromPCM16(pcm)
	duration := pcmDuration(len(samples), p.sampleRate)

	startAt := p.nextPlayAt
	if now := p.now(); startAt.Before(now) {
		startAt = now
	}
	p.queue = append(p.queue, scheduledUnit{
		samples:  samples,
		startAt:  startAt,
		duration: duration,
	})
	p.nextPlayAt = startAt.Add(duration)
}

// Interrupt stops every scheduled-but-unfinished buffer, clears the queue,
// and resets nextPlayTime to now so the next chunk starts immediately.
// Synchronous: nothing stale plays after it returns.
func (p *Playback) Interrupt() {
	p.mu.Lock()
	p.queue = nil
	p.nextPlayAt = p.now()
	device := p.device
	p.mu.Unlock()

	if device != nil {
		device.Reset()
	}
}

// Dispose interrupts playback and releases the device. Terminal: later
// Enqueue calls are no-ops.
func (p *Playback) Dispose() {
	p.Interrupt()

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	device := p.device
	p.device = nil
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stop) })
	if device != nil {
		_ = device.Close()
	}
}

// SetVolume scales the shared gain stage, clamped to [0, 1].
func (p *Playback) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

// pending returns the number of scheduled-but-unplayed units.
func (p *Playback) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Playback) run() {
	ticker := time.NewTicker(playbackTick)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.flushDue()
		}
	}
}

// flushDue writes every unit whose start time has arrived to the device, in
// FIFO order, applying the gain stage on the way out.
func (p *Playback) flushDue() {
	p.mu.Lock()
	now := p.now()
	var due []scheduledUnit
	for len(p.queue) > 0 && !p.queue[0].startAt.After(now) {
		due = append(due, p.queue[0])
		p.queue = p.queue[1:]
	}
	volume := p.volume
	device := p.device
	p.mu.Unlock()

	if device == nil {
		return
	}
	for _, unit := range due {
		scaled := unit.samples
		if volume != 1.0 {
			scaled = make([]float32, len(unit.samples))
			for i, s := range unit.samples {
				scaled[i] = s * float32(volume)
			}
		}
		if err := device.Write(PCM16FromFloat32(scaled)); err != nil {
			p.logger.Debug("playback device write failed", "error", err)
		}
	}
}
