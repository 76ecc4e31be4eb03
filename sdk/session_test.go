package voxlive

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/voxjot/voxlive/pkg/core"
	"github.com/voxjot/voxlive/pkg/live"
)

type fakeTransport struct {
	mu           sync.Mutex
	sink         live.EventSink
	texts        []string
	audio        [][]byte
	connected    bool
	disconnected bool
	state        live.State
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.state = live.StateReady
	return nil
}

func (f *fakeTransport) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeTransport) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	f.state = live.StateIdle
}

func (f *fakeTransport) State() live.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeCapture struct {
	mu       sync.Mutex
	startErr error
	running  bool
	stopped  bool
	onChunk  func(pcm []byte)
}

func (f *fakeCapture) Start(onChunk func(pcm []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.onChunk = onChunk
	f.running = true
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stopped = true
}

func (f *fakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakePlayback struct {
	mu         sync.Mutex
	enqueued   [][]byte
	interrupts int
	disposed   bool
	volume     float64
}

func (f *fakePlayback) Enqueue(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, append([]byte(nil), pcm...))
}

func (f *fakePlayback) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	f.enqueued = nil
}

func (f *fakePlayback) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
}

func (f *fakePlayback) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func testConfig() Config {
	return Config{APIKey: "test-key", Model: "gemini-2.0-flash-live-001"}
}

// newTestSession wires a session to fakes and returns all of them. The fake
// transport's sink is populated once Start runs.
func newTestSession(t *testing.T, cfg Config, handlers Handlers) (*Session, *fakeTransport, *fakeCapture, *fakePlayback) {
	t.Helper()
	s := NewSession(cfg, handlers)
	ft := &fakeTransport{state: live.StateIdle}
	fc := &fakeCapture{}
	fp := &fakePlayback{}
	s.newTransport = func(cfg live.Config, sink live.EventSink) transport {
		ft.sink = sink
		return ft
	}
	s.newCapture = func() capturePipeline { return fc }
	s.newPlayback = func() (playbackPipeline, error) { return fp, nil }
	return s, ft, fc, fp
}

func startSession(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestSessionStart_MissingCredentialFailsFast(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestSession(t, Config{Model: "m"}, Handlers{})
	err := s.Start(context.Background())
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrMissingCredential {
		t.Fatalf("error = %v, want missing_credential", err)
	}
}

func TestSessionStartEndLifecycle(t *testing.T) {
	t.Parallel()

	s, ft, fc, fp := newTestSession(t, testConfig(), Handlers{})
	startSession(t, s)

	// Idempotent while running.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	ft.sink.SetupComplete()
	if !fc.Running() {
		t.Fatalf("capture not started on setup completion")
	}

	s.End()
	if s.State() != live.StateIdle {
		t.Fatalf("state = %q, want idle after End", s.State())
	}

	ft.mu.Lock()
	disconnected := ft.disconnected
	ft.mu.Unlock()
	if !disconnected {
		t.Fatalf("transport not disconnected")
	}
	fc.mu.Lock()
	stopped := fc.stopped
	fc.mu.Unlock()
	if !stopped {
		t.Fatalf("capture not stopped")
	}
	fp.mu.Lock()
	disposed := fp.disposed
	fp.mu.Unlock()
	if !disposed {
		t.Fatalf("playback not disposed")
	}

	// Safe to call again after teardown.
	s.End()
}

func TestSessionVoiceTurnCommitsOneUserMessage(t *testing.T) {
	t.Parallel()

	var messages []Message
	var assistantText []string
	s, ft, _, fp := newTestSession(t, testConfig(), Handlers{
		OnMessage:       func(m Message) { messages = append(messages, m) },
		OnAssistantText: func(text string) { assistantText = append(assistantText, text) },
	})
	startSession(t, s)
	ft.sink.SetupComplete()

	// One model turn interleaving caption text, audio, and the user's
	// transcription, then completion.
	ft.sink.Text("textA")
	ft.sink.Audio([]byte{1, 2, 3, 4})
	ft.sink.InputTranscript("hi")
	ft.sink.TurnComplete()

	if len(messages) != 1 {
		t.Fatalf("messages = %d, want exactly 1", len(messages))
	}
	if messages[0].Role != RoleUser || messages[0].Text != "hi" {
		t.Fatalf("message = %+v, want user %q", messages[0], "hi")
	}
	if messages[0].Truncated {
		t.Fatalf("completed turn must not be truncated")
	}
	if messages[0].ID == "" || messages[0].CreatedAt.IsZero() {
		t.Fatalf("message identity not populated: %+v", messages[0])
	}

	// Caption text surfaces through its own handler, never the history.
	if len(assistantText) != 1 || assistantText[0] != "textA" {
		t.Fatalf("assistant text = %v", assistantText)
	}

	fp.mu.Lock()
	enqueued := len(fp.enqueued)
	fp.mu.Unlock()
	if enqueued != 1 {
		t.Fatalf("playback enqueues = %d, want 1", enqueued)
	}

	if s.LiveInputTranscript() != "" || s.LiveOutputTranscript() != "" {
		t.Fatalf("transcript accumulators not cleared after turn")
	}
}

func TestSessionTranscriptFragmentsAccumulate(t *testing.T) {
	t.Parallel()

	var inputViews, outputViews []string
	s, ft, _, _ := newTestSession(t, testConfig(), Handlers{
		OnInputTranscript:  func(text string) { inputViews = append(inputViews, text) },
		OnOutputTranscript: func(text string) { outputViews = append(outputViews, text) },
	})
	startSession(t, s)
	ft.sink.SetupComplete()

	ft.sink.InputTranscript("turn ")
	ft.sink.InputTranscript("it up")
	ft.sink.OutputTranscript("Sure")

	if got := s.LiveInputTranscript(); got != "turn it up" {
		t.Fatalf("input transcript = %q, want %q", got, "turn it up")
	}
	if got := s.LiveOutputTranscript(); got != "Sure" {
		t.Fatalf("output transcript = %q, want %q", got, "Sure")
	}
	if len(inputViews) != 2 || inputViews[1] != "turn it up" {
		t.Fatalf("input views = %v, want accumulated fragments", inputViews)
	}
	if len(outputViews) != 1 || outputViews[0] != "Sure" {
		t.Fatalf("output views = %v", outputViews)
	}
}

func TestSessionInterruptionTruncatesAssistantTurn(t *testing.T) {
	t.Parallel()

	var messages []Message
	interrupted := false
	s, ft, _, fp := newTestSession(t, testConfig(), Handlers{
		OnMessage:     func(m Message) { messages = append(messages, m) },
		OnInterrupted: func() { interrupted = true },
	})
	startSession(t, s)
	ft.sink.SetupComplete()

	ft.sink.Audio([]byte{1, 2})
	ft.sink.OutputTranscript("Hello wor")
	ft.sink.Interrupted()

	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if messages[0].Role != RoleAssistant || messages[0].Text != "Hello wor" {
		t.Fatalf("message = %+v", messages[0])
	}
	if !messages[0].Truncated {
		t.Fatalf("interrupted assistant message must be marked truncated")
	}
	if !interrupted {
		t.Fatalf("interruption handler not called")
	}

	fp.mu.Lock()
	interrupts, queued := fp.interrupts, len(fp.enqueued)
	fp.mu.Unlock()
	if interrupts != 1 {
		t.Fatalf("playback interrupts = %d, want 1", interrupts)
	}
	if queued != 0 {
		t.Fatalf("stale audio left queued after interruption")
	}
	if s.LiveOutputTranscript() != "" {
		t.Fatalf("output accumulator not cleared")
	}
}

func TestSessionSendText(t *testing.T) {
	t.Parallel()

	var messages []Message
	s, ft, _, _ := newTestSession(t, testConfig(), Handlers{
		OnMessage: func(m Message) { messages = append(messages, m) },
	})

	// Before Start: silently ignored.
	s.SendText("too early")

	startSession(t, s)
	ft.sink.SetupComplete()

	s.SendText("   ")
	s.SendText("hello")

	if got := ft.sentTexts(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("transport texts = %v, want [hello]", got)
	}
	if len(messages) != 1 || messages[0].Role != RoleUser || messages[0].Text != "hello" {
		t.Fatalf("messages = %+v", messages)
	}
	history := s.Messages()
	if len(history) != 1 || history[0].Text != "hello" {
		t.Fatalf("history = %+v", history)
	}
}

func TestSessionCaptureFailureKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	var errs []error
	ready := false
	s, ft, fc, _ := newTestSession(t, testConfig(), Handlers{
		OnReady: func() { ready = true },
		OnError: func(err error) { errs = append(errs, err) },
	})
	fc.startErr = core.NewCaptureUnavailableError(errors.New("no device"))

	startSession(t, s)
	ft.sink.SetupComplete()

	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(errs))
	}
	var coreErr *core.Error
	if !errors.As(errs[0], &coreErr) || coreErr.Type != core.ErrCaptureUnavailable {
		t.Fatalf("error = %v, want capture_unavailable", errs[0])
	}
	if !ready {
		t.Fatalf("session must still report ready without a microphone")
	}

	// Text input keeps working.
	s.SendText("hello")
	if got := ft.sentTexts(); len(got) != 1 {
		t.Fatalf("transport texts = %v", got)
	}
}

func TestSessionCaptureChunksFlowToTransport(t *testing.T) {
	t.Parallel()

	s, ft, fc, _ := newTestSession(t, testConfig(), Handlers{})
	startSession(t, s)
	ft.sink.SetupComplete()

	fc.mu.Lock()
	onChunk := fc.onChunk
	fc.mu.Unlock()
	if onChunk == nil {
		t.Fatalf("capture callback not registered")
	}
	onChunk([]byte{9, 9})

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.audio) != 1 || len(ft.audio[0]) != 2 {
		t.Fatalf("transport audio = %v", ft.audio)
	}
}

func TestSessionClearMessagesIsIndependentOfConnection(t *testing.T) {
	t.Parallel()

	s, ft, _, _ := newTestSession(t, testConfig(), Handlers{})
	startSession(t, s)
	ft.sink.SetupComplete()

	s.SendText("hello")
	s.SendText("world")
	if got := len(s.Messages()); got != 2 {
		t.Fatalf("history = %d, want 2", got)
	}

	s.ClearMessages()
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("history = %d, want 0 after clear", got)
	}
	ft.mu.Lock()
	disconnected := ft.disconnected
	ft.mu.Unlock()
	if disconnected {
		t.Fatalf("clearing history must not touch the connection")
	}
}

func TestSessionSetVolumeForwards(t *testing.T) {
	t.Parallel()

	s, _, _, fp := newTestSession(t, testConfig(), Handlers{})
	startSession(t, s)

	s.SetVolume(0.25)
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.volume != 0.25 {
		t.Fatalf("volume = %v, want 0.25", fp.volume)
	}
}

func TestSessionPlaybackFailureSurfacesOnStart(t *testing.T) {
	t.Parallel()

	s := NewSession(testConfig(), Handlers{})
	want := errors.New("no output device")
	s.newPlayback = func() (playbackPipeline, error) { return nil, want }
	s.newTransport = func(cfg live.Config, sink live.EventSink) transport {
		return &fakeTransport{}
	}
	s.newCapture = func() capturePipeline { return &fakeCapture{} }

	if err := s.Start(context.Background()); !errors.Is(err, want) {
		t.Fatalf("Start error = %v, want %v", err, want)
	}
}
