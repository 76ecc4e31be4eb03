package voxlive

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxjot/voxlive/pkg/audio"
	"github.com/voxjot/voxlive/pkg/live"
)

// transport is the protocol connection as the coordinator sees it.
type transport interface {
	Connect(ctx context.Context) error
	SendAudio(pcm []byte) error
	SendText(text string) error
	Disconnect()
	State() live.State
}

// capturePipeline is the microphone input pipeline.
type capturePipeline interface {
	Start(onChunk func(pcm []byte)) error
	Stop()
	Running() bool
}

// playbackPipeline is the scheduled audio output pipeline.
type playbackPipeline interface {
	Enqueue(pcm []byte)
	Interrupt()
	Dispose()
	SetVolume(v float64)
}

// Session coordinates one live conversation: it owns a transport, a capture
// pipeline, and a playback pipeline, and turns their event streams into an
// ordered message history plus live transcript views.
type Session struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	// Factories let tests substitute fakes for the real stack.
	newTransport func(cfg live.Config, sink live.EventSink) transport
	newCapture   func() capturePipeline
	newPlayback  func() (playbackPipeline, error)

	mu         sync.Mutex
	transport  transport
	capture    capturePipeline
	playback   playbackPipeline
	history    []Message
	inputText  string
	outputText string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger used by the session and its pipelines.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates a session. No resources are acquired until Start.
func NewSession(cfg Config, handlers Handlers, opts ...SessionOption) *Session {
	s := &Session{
		cfg:      cfg,
		handlers: handlers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newTransport == nil {
		s.newTransport = func(cfg live.Config, sink live.EventSink) transport {
			return live.New(cfg, sink, live.WithLogger(s.logger))
		}
	}
	if s.newCapture == nil {
		s.newCapture = func() capturePipeline {
			return audio.NewCapture(audio.WithCaptureLogger(s.logger))
		}
	}
	if s.newPlayback == nil {
		s.newPlayback = func() (playbackPipeline, error) {
			return audio.NewPlayback(audio.WithPlaybackLogger(s.logger))
		}
	}
	return s
}

// Start validates the configuration, builds the pipelines, and connects in
// the background. The only synchronous failure is a missing credential (or
// an unavailable output device); everything later surfaces through
// Handlers.OnError. Starting an already started session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	if err := s.cfg.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		return nil
	}
	playback, err := s.newPlayback()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.playback = playback
	s.capture = s.newCapture()
	tr := s.newTransport(live.Config{
		APIKey:            s.cfg.APIKey,
		Model:             s.cfg.Model,
		Voice:             s.cfg.Voice,
		SystemInstruction: s.cfg.SystemInstruction,
	}, &transportEvents{s: s})
	s.transport = tr
	s.mu.Unlock()

	go func() {
		// Connect reports its failures through the event sink; the returned
		// error would be a duplicate.
		_ = tr.Connect(ctx)
	}()
	return nil
}

// End stops capture, disposes playback, disconnects the transport, and
// clears the live transcript views. Safe to call repeatedly or before Start.
func (s *Session) End() {
	s.mu.Lock()
	capture, playback, tr := s.capture, s.playback, s.transport
	s.capture, s.playback, s.transport = nil, nil, nil
	s.inputText, s.outputText = "", ""
	s.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	if playback != nil {
		playback.Dispose()
	}
	if tr != nil {
		tr.Disconnect()
	}
	s.emitTranscripts("", "")
}

// SendText submits a user text turn. Blank input or a session that was never
// started is a no-op. Text turns are appended to history immediately rather
// than streamed through the transcript accumulators.
func (s *Session) SendText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return
	}

	m := newMessage(RoleUser, text, false)
	s.mu.Lock()
	s.history = append(s.history, m)
	s.mu.Unlock()
	if h := s.handlers.OnMessage; h != nil {
		h(m)
	}

	if err := tr.SendText(text); err != nil {
		s.logger.Debug("text send rejected", "error", err)
	}
}

// State returns the current connection state.
func (s *Session) State() live.State {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return live.StateIdle
	}
	return tr.State()
}

// Messages returns a copy of the ordered conversation history.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// ClearMessages empties the conversation history. Independent of the
// connection lifecycle.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// LiveInputTranscript returns the uncommitted user-side transcript for the
// in-progress turn.
func (s *Session) LiveInputTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputText
}

// LiveOutputTranscript returns the uncommitted assistant-side transcript for
// the in-progress turn.
func (s *Session) LiveOutputTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputText
}

// SetVolume scales playback volume, clamped to [0, 1].
func (s *Session) SetVolume(v float64) {
	s.mu.Lock()
	playback := s.playback
	s.mu.Unlock()
	if playback != nil {
		playback.SetVolume(v)
	}
}

// onReady starts microphone capture once the handshake completes. A capture
// failure is reported but leaves the session connected: the conversation
// continues with text input only.
func (s *Session) onReady() {
	s.mu.Lock()
	capture, tr := s.capture, s.transport
	s.mu.Unlock()

	if capture != nil && tr != nil && !capture.Running() {
		err := capture.Start(func(pcm []byte) {
			if sendErr := tr.SendAudio(pcm); sendErr != nil {
				s.logger.Debug("audio chunk dropped", "error", sendErr)
			}
		})
		if err != nil {
			s.logger.Warn("microphone unavailable, continuing without audio input", "error", err)
			if h := s.handlers.OnError; h != nil {
				h(err)
			}
		}
	}
	if h := s.handlers.OnReady; h != nil {
		h()
	}
}

// finalizeTurn commits any non-empty transcript accumulator to history and
// resets the live views. An interrupted assistant turn is marked truncated.
func (s *Session) finalizeTurn(interrupted bool) {
	s.mu.Lock()
	var finalized []Message
	if s.inputText != "" {
		finalized = append(finalized, newMessage(RoleUser, s.inputText, false))
	}
	if s.outputText != "" {
		finalized = append(finalized, newMessage(RoleAssistant, s.outputText, interrupted))
	}
	s.inputText, s.outputText = "", ""
	s.history = append(s.history, finalized...)
	s.mu.Unlock()

	if h := s.handlers.OnMessage; h != nil {
		for _, m := range finalized {
			h(m)
		}
	}
	s.emitTranscripts("", "")
}

func (s *Session) emitTranscripts(input, output string) {
	if h := s.handlers.OnInputTranscript; h != nil {
		h(input)
	}
	if h := s.handlers.OnOutputTranscript; h != nil {
		h(output)
	}
}

// transportEvents adapts the Session to the transport's event sink.
type transportEvents struct {
	s *Session
}

func (e *transportEvents) StateChanged(state live.State) {
	if state == live.StateIdle {
		e.s.mu.Lock()
		e.s.inputText, e.s.outputText = "", ""
		e.s.mu.Unlock()
	}
	if h := e.s.handlers.OnStateChange; h != nil {
		h(state)
	}
}

func (e *transportEvents) SetupComplete() {
	e.s.onReady()
}

func (e *transportEvents) Audio(pcm []byte) {
	e.s.mu.Lock()
	playback := e.s.playback
	e.s.mu.Unlock()
	if playback != nil {
		playback.Enqueue(pcm)
	}
}

func (e *transportEvents) Text(text string) {
	if h := e.s.handlers.OnAssistantText; h != nil {
		h(text)
	}
}

func (e *transportEvents) InputTranscript(fragment string) {
	e.s.mu.Lock()
	e.s.inputText += fragment
	text := e.s.inputText
	e.s.mu.Unlock()
	if h := e.s.handlers.OnInputTranscript; h != nil {
		h(text)
	}
}

func (e *transportEvents) OutputTranscript(fragment string) {
	e.s.mu.Lock()
	e.s.outputText += fragment
	text := e.s.outputText
	e.s.mu.Unlock()
	if h := e.s.handlers.OnOutputTranscript; h != nil {
		h(text)
	}
}

func (e *transportEvents) TurnComplete() {
	e.s.finalizeTurn(false)
	if h := e.s.handlers.OnTurnComplete; h != nil {
		h()
	}
}

func (e *transportEvents) Interrupted() {
	// Cancel playback before committing the transcript so no stale audio
	// plays past the interruption point.
	e.s.mu.Lock()
	playback := e.s.playback
	e.s.mu.Unlock()
	if playback != nil {
		playback.Interrupt()
	}
	e.s.finalizeTurn(true)
	if h := e.s.handlers.OnInterrupted; h != nil {
		h()
	}
}

func (e *transportEvents) Error(err error) {
	if h := e.s.handlers.OnError; h != nil {
		h(err)
	}
}
