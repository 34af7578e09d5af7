package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/metrics"
)

// State is the connection lifecycle of the manager. Modeled as an explicit
// enum so "never reconnect after termination" is a checkable invariant.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind tags one event delivered to the relay.
type EventKind int

const (
	// EventReady fires after each successful setup handshake.
	EventReady EventKind = iota
	// EventAudio carries one base64 PCM audio part from the model turn.
	EventAudio
	// EventInputTranscription carries a client-speech transcription fragment.
	EventInputTranscription
	// EventOutputTranscription carries an assistant-speech transcription fragment.
	EventOutputTranscription
	// EventTurnComplete signals the end of one assistant turn.
	EventTurnComplete
	// EventInterrupted signals the model turn was cut off by the speaker.
	EventInterrupted
	// EventResumptionHandle carries a new resumption handle to persist.
	EventResumptionHandle
	// EventGoAway warns the upstream will drop the connection shortly.
	EventGoAway
	// EventTerminated is the final event: no further reconnects will happen.
	EventTerminated
)

// Event is one upstream occurrence, delivered in arrival order.
type Event struct {
	Kind   EventKind
	Audio  string
	Text   string
	Handle string
	Reason string
}

// Conn is the subset of *websocket.Conn the manager needs; narrowed for tests.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens one upstream connection attempt.
type DialFunc func(ctx context.Context) (Conn, error)

// SleepFunc waits for d or until ctx is done; injected for backoff tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

const (
	// ReasonMaxReconnects is reported when the retry ceiling is exhausted.
	ReasonMaxReconnects = "max_reconnects"

	defaultMaxReconnectAttempts = 5
	defaultReconnectBaseDelay   = 2 * time.Second
)

type Config struct {
	// URL of the bidirectional streaming endpoint (API key appended as query).
	URL    string
	APIKey string
	Model  string
	Voice  string

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
}

type Dependencies struct {
	Logger *slog.Logger
	Config Config

	// Instruction is re-evaluated on every (re)connect so a resumed
	// connection can embed resume-without-re-greeting guidance.
	Instruction func() string

	// ResumptionHandle seeds the first handshake; typically the handle
	// persisted by a previous process or connection.
	ResumptionHandle string

	Dial  DialFunc
	Sleep SleepFunc
}

// Manager drives one upstream connection through Connecting/Open/Closed,
// reconnecting with linear backoff until terminated or the ceiling is hit.
type Manager struct {
	cfg         Config
	logger      *slog.Logger
	instruction func() string
	dial        DialFunc
	sleep       SleepFunc

	ctx    context.Context
	cancel context.CancelFunc

	events chan Event

	state      atomic.Int32
	terminated atomic.Bool

	mu      sync.Mutex
	conn    Conn
	handle  string
	attempt int
}

func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Instruction == nil {
		return nil, fmt.Errorf("instruction builder is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg := deps.Config
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		logger:      deps.Logger,
		instruction: deps.Instruction,
		dial:        deps.Dial,
		sleep:       deps.Sleep,
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan Event, 64),
		handle:      strings.TrimSpace(deps.ResumptionHandle),
	}
	if m.dial == nil {
		m.dial = m.dialWebsocket
	}
	if m.sleep == nil {
		m.sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	m.state.Store(int32(StateConnecting))
	return m, nil
}

// Events delivers upstream events in arrival order. Closed when Run returns.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Handle returns the most recently observed resumption handle.
func (m *Manager) Handle() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Terminate is the single cancellation signal. After it is set no further
// reconnect attempt is scheduled, regardless of pending timers.
func (m *Manager) Terminate() {
	if m.terminated.Swap(true) {
		return
	}
	m.cancel()
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Send forwards one raw text frame to the open upstream connection. Frames
// are dropped when the connection is not open: realtime media has no
// retroactive value, so nothing is queued.
func (m *Manager) Send(raw []byte) bool {
	if m.State() != StateOpen {
		return false
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		m.logger.Warn("upstream write failed", "error", err)
		return false
	}
	return true
}

// Run owns the connect/read/reconnect loop. It returns when the session is
// terminated or the reconnect ceiling is exhausted; the events channel is
// closed on return.
func (m *Manager) Run() {
	defer close(m.events)
	defer m.state.Store(int32(StateClosed))

	for {
		if m.terminated.Load() {
			return
		}
		m.state.Store(int32(StateConnecting))

		conn, err := m.dial(m.ctx)
		if err != nil {
			if m.terminated.Load() || !m.scheduleRetry(err) {
				return
			}
			continue
		}

		// Publish the conn before handshaking so Terminate can close it and
		// unblock the setup-ack read. A termination that raced the dial has
		// already missed this conn, so re-check after publishing.
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		if m.terminated.Load() {
			_ = conn.Close()
			return
		}

		if err := m.handshake(conn); err != nil {
			m.mu.Lock()
			m.conn = nil
			m.mu.Unlock()
			_ = conn.Close()
			if m.terminated.Load() || !m.scheduleRetry(err) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.attempt = 0
		m.mu.Unlock()
		m.state.Store(int32(StateOpen))
		m.emit(Event{Kind: EventReady})

		readErr := m.readLoop(conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close()
		m.state.Store(int32(StateClosed))

		if m.terminated.Load() {
			return
		}
		if !m.scheduleRetry(readErr) {
			return
		}
	}
}

// scheduleRetry applies the linear backoff policy: increment the attempt
// counter while below the ceiling and wait attempt x base delay. Interviews
// are short-lived, so aggressive early retry beats exponential delays; the
// fixed ceiling bounds reconnection storms. Returns false when no further
// attempt may run.
func (m *Manager) scheduleRetry(cause error) bool {
	m.mu.Lock()
	if m.attempt >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.logger.Warn("upstream reconnect ceiling exhausted", "attempts", m.cfg.MaxReconnectAttempts, "error", cause)
		m.emit(Event{Kind: EventTerminated, Reason: ReasonMaxReconnects})
		return false
	}
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()

	metrics.ReconnectAttempts.Inc()
	delay := time.Duration(attempt) * m.cfg.ReconnectBaseDelay
	m.logger.Info("upstream reconnect scheduled", "attempt", attempt, "delay", delay, "error", cause)
	if err := m.sleep(m.ctx, delay); err != nil {
		return false
	}
	// Re-check immediately before re-entering Connecting: a termination that
	// raced the backoff timer must win.
	return !m.terminated.Load()
}

func (m *Manager) handshake(conn Conn) error {
	msg := setupEnvelope{
		Setup: setupPayload{
			Model: m.cfg.Model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			SystemInstruction: &content{
				Parts: []part{{Text: m.instruction()}},
			},
			InputAudioTranscription:  &emptyObject{},
			OutputAudioTranscription: &emptyObject{},
			SessionResumption:        &sessionResumption{},
		},
	}
	if voice := strings.TrimSpace(m.cfg.Voice); voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
		}
	}
	m.mu.Lock()
	if m.handle != "" {
		msg.Setup.SessionResumption.Handle = m.handle
	}
	m.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal setup: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}

	// The first server frame must acknowledge setup; bound the wait so a
	// silent peer cannot hold the connect loop.
	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read setup ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	var ack serverEnvelope
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("decode setup ack: %w", err)
	}
	if ack.SetupComplete == nil {
		return errors.New("upstream did not acknowledge setup")
	}
	return nil
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env serverEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.logger.Warn("upstream sent undecodable frame", "error", err)
			continue
		}

		if env.SessionResumptionUpdate != nil && env.SessionResumptionUpdate.Resumable {
			handle := strings.TrimSpace(env.SessionResumptionUpdate.NewHandle)
			if handle != "" {
				m.mu.Lock()
				m.handle = handle
				m.mu.Unlock()
				m.emit(Event{Kind: EventResumptionHandle, Handle: handle})
			}
		}
		if env.GoAway != nil {
			m.emit(Event{Kind: EventGoAway, Reason: env.GoAway.TimeLeft})
		}

		sc := env.ServerContent
		if sc == nil {
			continue
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			m.emit(Event{Kind: EventInputTranscription, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			m.emit(Event{Kind: EventOutputTranscription, Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					m.emit(Event{Kind: EventAudio, Audio: p.InlineData.Data})
				}
			}
		}
		if sc.Interrupted {
			m.emit(Event{Kind: EventInterrupted})
		}
		if sc.TurnComplete {
			m.emit(Event{Kind: EventTurnComplete})
		}
	}
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Manager) dialWebsocket(ctx context.Context) (Conn, error) {
	endpoint, err := url.Parse(m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	q := endpoint.Query()
	if m.cfg.APIKey != "" {
		q.Set("key", m.cfg.APIKey)
	}
	endpoint.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial upstream: %w", err)
	}
	return conn, nil
}
