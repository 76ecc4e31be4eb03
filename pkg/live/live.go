// Package live owns the persistent websocket connection to the
// generative-dialogue service: the setup handshake, message framing, the
// per-turn state machine, and bounded reconnection.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxjot/voxlive/pkg/core"
	"github.com/voxjot/voxlive/pkg/live/protocol"
)

// DefaultEndpoint is the production live websocket endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	defaultHandshakeTimeout = 10 * time.Second
	maxReconnectAttempts    = 3
	defaultReconnectDelay   = time.Second
)

// errClosing marks a connect attempt that lost a race with Disconnect.
var errClosing = errors.New("transport is closing")

// State is the connection state. Exactly one state is active at a time; it is
// owned by the Transport and observed by everyone else through the sink.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateListening  State = "listening"
	StateSpeaking   State = "speaking"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// EventSink receives transport events. One method per event; implementations
// must not block for long since calls are made from the read loop.
type EventSink interface {
	StateChanged(s State)
	SetupComplete()
	Audio(pcm []byte)
	Text(text string)
	InputTranscript(fragment string)
	OutputTranscript(fragment string)
	TurnComplete()
	Interrupted()
	Error(err error)
}

// Config is the immutable per-session transport configuration.
type Config struct {
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
}

// Option configures a Transport.
type Option func(*Transport)

// WithEndpoint overrides the websocket endpoint (used by tests and proxies).
func WithEndpoint(endpoint string) Option {
	return func(t *Transport) { t.endpoint = endpoint }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
		}
	}
}

// WithHandshakeTimeout overrides the setup acknowledgment deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.handshakeTimeout = d
		}
	}
}

// WithReconnectDelay overrides the base reconnect backoff. The delay before
// attempt n is n times this value.
func WithReconnectDelay(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.reconnectDelay = d
		}
	}
}

// Transport is a live websocket connection plus its conversation state
// machine. Reconnect counters are per-instance so concurrent sessions never
// interfere.
type Transport struct {
	cfg  Config
	sink EventSink

	logger           *slog.Logger
	dialer           *websocket.Dialer
	endpoint         string
	handshakeTimeout time.Duration
	reconnectDelay   time.Duration

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	generation int
	closing    bool

	writeMu sync.Mutex
}

// New creates a Transport. The sink is required.
func New(cfg Config, sink EventSink, opts ...Option) *Transport {
	t := &Transport{
		cfg:              cfg,
		sink:             sink,
		logger:           slog.Default(),
		dialer:           websocket.DefaultDialer,
		endpoint:         DefaultEndpoint,
		handshakeTimeout: defaultHandshakeTimeout,
		reconnectDelay:   defaultReconnectDelay,
		state:            StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect dials the service, performs the setup handshake, and starts the
// read loop. It fails fast with a missing credential error, and fails with a
// handshake timeout if the acknowledgment does not arrive in time. Fatal
// failures are also surfaced through the sink's error callback.
func (t *Transport) Connect(ctx context.Context) error {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		err := core.NewMissingCredentialError("no API key configured")
		t.setState(StateError)
		t.sink.Error(err)
		return err
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	t.setState(StateConnecting)

	if err := t.establish(ctx); err != nil {
		if errors.Is(err, errClosing) {
			return nil
		}
		t.mu.Lock()
		closing := t.closing
		t.mu.Unlock()
		if closing {
			// Disconnect won the race; the failure is moot.
			return nil
		}
		t.setState(StateError)
		t.sink.Error(err)
		return err
	}
	return nil
}

// establish dials, sends setup, and waits for the acknowledgment. On success
// the state is ready, the sink has been told setup completed, and a read loop
// is running for the new connection.
func (t *Transport) establish(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return core.NewConnectionLostError("open live connection", err)
	}

	setup := protocol.NewSetup(t.cfg.Model, t.cfg.Voice, t.cfg.SystemInstruction)
	t.writeMu.Lock()
	err = conn.WriteJSON(setup)
	t.writeMu.Unlock()
	if err != nil {
		_ = conn.Close()
		return core.NewConnectionLostError("send setup", err)
	}

	if err := t.awaitSetupComplete(conn); err != nil {
		_ = conn.Close()
		return err
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = conn.Close()
		return errClosing
	}
	t.conn = conn
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	t.setState(StateReady)
	t.sink.SetupComplete()
	go t.readLoop(conn, gen)
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid live endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", t.cfg.APIKey)
	u.RawQuery = q.Encode()

	dialer := t.dialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// awaitSetupComplete reads frames until the acknowledgment arrives or the
// handshake deadline fires. Undecodable frames before the ack are dropped.
func (t *Transport) awaitSetupComplete(conn *websocket.Conn) error {
	deadline := time.Now().Add(t.handshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return core.NewHandshakeTimeoutError(
				fmt.Sprintf("no setup acknowledgment within %s", t.handshakeTimeout))
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			t.logger.Debug("dropping frame during handshake", "error", err)
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
		t.logger.Debug("ignoring pre-handshake frame")
	}
}

// SendAudio streams one captured PCM chunk. It is permitted while ready,
// listening, or speaking; audio sent while the model is speaking is how the
// user interrupts it, and the server's interruption signal (not this send)
// drives the transition back to listening.
func (t *Transport) SendAudio(pcm []byte) error {
	t.mu.Lock()
	switch t.state {
	case StateReady, StateListening, StateSpeaking:
	default:
		state := t.state
		t.mu.Unlock()
		err := core.NewSendRejectedError("audio send", string(state))
		t.logger.Debug("rejected audio send", "state", state)
		return err
	}
	changed := false
	if t.state != StateSpeaking {
		changed = t.transitionLocked(StateListening)
	}
	conn := t.conn
	t.mu.Unlock()

	if changed {
		t.sink.StateChanged(StateListening)
	}
	return t.writeJSON(conn, protocol.NewAudioChunk(pcm))
}

// SendText submits a discrete user text turn. Permitted only while ready or
// listening; the session then processes until the model's turn completes.
func (t *Transport) SendText(text string) error {
	t.mu.Lock()
	switch t.state {
	case StateReady, StateListening:
	default:
		state := t.state
		t.mu.Unlock()
		err := core.NewSendRejectedError("text send", string(state))
		t.logger.Debug("rejected text send", "state", state)
		return err
	}
	changed := t.transitionLocked(StateProcessing)
	conn := t.conn
	t.mu.Unlock()

	if changed {
		t.sink.StateChanged(StateProcessing)
	}
	return t.writeJSON(conn, protocol.NewTextTurn(text))
}

func (t *Transport) writeJSON(conn *websocket.Conn, v any) error {
	if conn == nil {
		return core.NewSendRejectedError("send", "disconnected")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Disconnect closes the connection and returns the state machine to idle.
// It is idempotent and always lands on idle.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closing = true
	t.generation++
	conn := t.conn
	t.conn = nil
	changed := t.state != StateIdle
	t.state = StateIdle
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
	if changed {
		t.sink.StateChanged(StateIdle)
	}
}

func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(gen, err)
			return
		}
		t.handleFrame(data)
	}
}

// handleFrame decodes and dispatches one inbound frame. Decode failures are
// logged and swallowed; they never crash the transport or change state.
func (t *Transport) handleFrame(data []byte) {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		t.logger.Debug("dropping malformed server message",
			"error", core.NewMalformedMessageError(err))
		return
	}

	if msg.SetupComplete != nil {
		// Late or duplicate acknowledgment; the handshake already consumed
		// the real one.
		t.logger.Debug("ignoring duplicate setup acknowledgment")
	}
	if msg.ToolCall != nil {
		t.logger.Debug("ignoring tool call frame", "calls", len(msg.ToolCall.FunctionCalls))
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}

	// Several fields may be set at once; every one that is present fires.
	if sc.Interrupted {
		t.sink.Interrupted()
		t.setState(StateListening)
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				t.sink.Text(part.Text)
			}
			if part.InlineData != nil && part.InlineData.IsAudio() {
				pcm, err := part.InlineData.PCM()
				if err != nil {
					t.logger.Debug("dropping undecodable audio part", "error", err)
					continue
				}
				t.setState(StateSpeaking)
				t.sink.Audio(pcm)
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		t.sink.InputTranscript(sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		t.sink.OutputTranscript(sc.OutputTranscription.Text)
	}
	if sc.TurnComplete {
		t.setState(StateListening)
		t.sink.TurnComplete()
	}
}

// handleReadError decides whether an unexpected close warrants reconnection.
// Deliberate disconnects and stale read loops are ignored.
func (t *Transport) handleReadError(gen int, err error) {
	t.mu.Lock()
	if gen != t.generation || t.closing {
		t.mu.Unlock()
		return
	}
	if t.state == StateIdle || t.state == StateError {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.mu.Unlock()

	t.logger.Warn("live connection closed unexpectedly", "error", err)
	t.setState(StateConnecting)
	go t.reconnect(err)
}

// reconnect retries the full dial + handshake up to maxReconnectAttempts
// times with linear backoff. Exhausting the attempts is fatal.
func (t *Transport) reconnect(cause error) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		time.Sleep(time.Duration(attempt) * t.reconnectDelay)

		t.mu.Lock()
		if t.closing {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		t.logger.Info("reconnecting", "attempt", attempt)
		err := t.establish(context.Background())
		if err == nil {
			return
		}
		if errors.Is(err, errClosing) {
			return
		}
		t.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	t.setState(StateError)
	t.sink.Error(core.NewConnectionLostError("connection lost", cause))
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	changed := t.transitionLocked(s)
	t.mu.Unlock()
	if changed {
		t.sink.StateChanged(s)
	}
}

// transitionLocked updates the state and reports whether it changed. The
// sink notification is the caller's job, after releasing t.mu, so that sinks
// may call back into the transport.
func (t *Transport) transitionLocked(s State) bool {
	if t.state == s {
		return false
	}
	t.state = s
	return true
}
