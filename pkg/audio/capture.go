package audio

import (
	"log/slog"
	"sync"

	"github.com/voxjot/voxlive/pkg/core"
)

// captureChannelDepth bounds the handoff between the device's real-time
// thread and the chunk dispatcher. When the consumer lags, chunks are dropped
// rather than blocking the audio thread.
const captureChannelDepth = 32

// captureSource abstracts the platform capture device. Start begins
// delivering raw PCM16 data to onData from the device's own thread; Stop
// must return only after no further onData calls can occur.
type captureSource interface {
	Start(onData func(pcm []byte)) error
	Stop()
}

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithCaptureLogger sets the logger.
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(c *Capture) {
		if l != nil {
			c.logger = l
		}
	}
}

// withCaptureSource injects a fake device in tests.
func withCaptureSource(newSource func() (captureSource, error)) CaptureOption {
	return func(c *Capture) { c.newSource = newSource }
}

// Capture is the microphone input pipeline. Once started it holds an
// exclusive claim on the device and emits variable-length PCM16 chunks to a
// single registered callback on its own dispatcher goroutine.
type Capture struct {
	logger    *slog.Logger
	newSource func() (captureSource, error)

	mu      sync.Mutex
	source  captureSource
	chunks  chan []byte
	done    chan struct{}
	running bool
}

// NewCapture creates a capture pipeline for mono 16 kHz PCM16 input.
func NewCapture(opts ...CaptureOption) *Capture {
	c := &Capture{
		logger:    slog.Default(),
		newSource: newMalgoSource,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether the pipeline is currently capturing.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start acquires the microphone and begins emitting chunks to onChunk. If
// the device cannot be acquired it returns a capture unavailable error and
// no chunks are ever emitted. Starting an already running pipeline is a
// no-op.
func (c *Capture) Start(onChunk func(pcm []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	source, err := c.newSource()
	if err != nil {
		return core.NewCaptureUnavailableError(err)
	}

	chunks := make(chan []byte, captureChannelDepth)
	done := make(chan struct{})

	err = source.Start(func(pcm []byte) {
		// Runs on the device's real-time thread: copy and hand off without
		// blocking. A full channel means the consumer is stalled; dropping
		// is preferable to glitching the device.
		buf := append([]byte(nil), pcm...)
		select {
		case chunks <- buf:
		default:
		}
	})
	if err != nil {
		source.Stop()
		return core.NewCaptureUnavailableError(err)
	}

	go func() {
		defer close(done)
		for pcm := range chunks {
			onChunk(pcm)
		}
	}()

	c.source = source
	c.chunks = chunks
	c.done = done
	c.running = true
	c.logger.Debug("microphone capture started", "sample_rate_hz", CaptureSampleRateHz)
	return nil
}

// Stop releases the microphone and waits for the dispatcher to drain. After
// Stop returns, no further callback invocations occur. Safe to call when not
// running.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	source, chunks, done := c.source, c.chunks, c.done
	c.source, c.chunks, c.done = nil, nil, nil
	c.running = false
	c.mu.Unlock()

	// Source.Stop returns only after the device thread has quiesced, so
	// closing the channel afterwards cannot race a producer send.
	source.Stop()
	close(chunks)
	<-done
	c.logger.Debug("microphone capture stopped")
}
