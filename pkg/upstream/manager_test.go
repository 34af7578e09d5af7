package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedConn struct {
	mu     sync.Mutex
	frames [][]byte
	writes [][]byte
	closed bool
}

func newScriptedConn(frames ...string) *scriptedConn {
	c := &scriptedConn{}
	for _, f := range frames {
		c.frames = append(c.frames, []byte(f))
	}
	return c
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return 0, nil, errors.New("connection reset")
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return 1, frame, nil
}

func (c *scriptedConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *scriptedConn) SetReadDeadline(time.Time) error { return nil }

func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) firstWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[0]
}

const setupAck = `{"setupComplete":{}}`

func collectEvents(t *testing.T, m *Manager) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-m.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("events channel never closed; got %+v", events)
		}
	}
}

func TestManager_BackoffScheduleIsLinear(t *testing.T) {
	var mu sync.Mutex
	var delays []time.Duration

	m, err := NewManager(Dependencies{
		Config: Config{
			Model:                "models/test-live",
			MaxReconnectAttempts: 3,
			ReconnectBaseDelay:   2 * time.Second,
		},
		Instruction: func() string { return "instr" },
		Dial: func(ctx context.Context) (Conn, error) {
			return nil, errors.New("dial refused")
		},
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	go m.Run()
	events := collectEvents(t, m)

	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	mu.Lock()
	defer mu.Unlock()
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}

	if len(events) != 1 || events[0].Kind != EventTerminated {
		t.Fatalf("events = %+v, want single EventTerminated", events)
	}
	if events[0].Reason != ReasonMaxReconnects {
		t.Fatalf("reason = %q, want %q", events[0].Reason, ReasonMaxReconnects)
	}
	if m.State() != StateClosed {
		t.Fatalf("state = %v, want closed", m.State())
	}
}

func TestManager_TerminateDuringBackoffStopsRetries(t *testing.T) {
	var mu sync.Mutex
	dials := 0

	var m *Manager
	m, err := NewManager(Dependencies{
		Config: Config{Model: "models/test-live"},
		Instruction: func() string { return "instr" },
		Dial: func(ctx context.Context) (Conn, error) {
			mu.Lock()
			dials++
			mu.Unlock()
			return nil, errors.New("dial refused")
		},
		Sleep: func(ctx context.Context, d time.Duration) error {
			m.Terminate()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	go m.Run()
	collectEvents(t, m)

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Fatalf("dials = %d; termination during backoff must stop retries", dials)
	}
}

func TestManager_HandshakeAndReadLoopEvents(t *testing.T) {
	conn := newScriptedConn(
		setupAck,
		`{"sessionResumptionUpdate":{"newHandle":"h-42","resumable":true}}`,
		`{"serverContent":{"inputTranscription":{"text":"so the deploy"}}}`,
		`{"serverContent":{"outputTranscription":{"text":"Tell me more."}}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"QUJD"}}]},"turnComplete":true}}`,
	)

	dialed := false
	m, err := NewManager(Dependencies{
		Config: Config{Model: "models/test-live", Voice: "Puck", MaxReconnectAttempts: 1},
		Instruction: func() string { return "interview instructions" },
		ResumptionHandle: "h-previous",
		Dial: func(ctx context.Context) (Conn, error) {
			if dialed {
				return nil, errors.New("no more connections")
			}
			dialed = true
			return conn, nil
		},
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	go m.Run()
	events := collectEvents(t, m)

	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{
		EventReady,
		EventResumptionHandle,
		EventInputTranscription,
		EventOutputTranscription,
		EventAudio,
		EventTurnComplete,
		EventTerminated,
	}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}

	if m.Handle() != "h-42" {
		t.Fatalf("Handle() = %q, want h-42", m.Handle())
	}

	var setup setupEnvelope
	if err := json.Unmarshal(conn.firstWrite(), &setup); err != nil {
		t.Fatalf("decode setup frame: %v", err)
	}
	if setup.Setup.Model != "models/test-live" {
		t.Fatalf("setup model = %q", setup.Setup.Model)
	}
	if setup.Setup.SessionResumption == nil || setup.Setup.SessionResumption.Handle != "h-previous" {
		t.Fatalf("setup did not carry the persisted resumption handle: %+v", setup.Setup.SessionResumption)
	}
	if setup.Setup.SystemInstruction == nil || len(setup.Setup.SystemInstruction.Parts) == 0 ||
		setup.Setup.SystemInstruction.Parts[0].Text != "interview instructions" {
		t.Fatalf("setup missing system instruction")
	}
}

// stallingConn never delivers the setup ack; ReadMessage blocks until Close.
type stallingConn struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func newStallingConn() *stallingConn {
	return &stallingConn{closed: make(chan struct{})}
}

func (c *stallingConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("connection closed")
}

func (c *stallingConn) WriteMessage(int, []byte) error { return nil }

func (c *stallingConn) SetReadDeadline(time.Time) error { return nil }

func (c *stallingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *stallingConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func TestManager_TerminateDuringHandshakeUnblocksRun(t *testing.T) {
	conn := newStallingConn()

	m, err := NewManager(Dependencies{
		Config:      Config{Model: "models/test-live"},
		Instruction: func() string { return "instr" },
		Dial: func(ctx context.Context) (Conn, error) {
			return conn, nil
		},
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		m.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Terminate()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Terminate during the setup-ack read")
	}
}

func TestManager_SendDropsWhenNotOpen(t *testing.T) {
	m, err := NewManager(Dependencies{
		Config:      Config{Model: "models/test-live"},
		Instruction: func() string { return "instr" },
		Dial: func(ctx context.Context) (Conn, error) {
			return nil, errors.New("dial refused")
		},
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	if m.Send([]byte(`{"realtime_input":{}}`)) {
		t.Fatalf("Send must report a drop while not open")
	}
}

func TestManager_HandshakeRejectsMissingAck(t *testing.T) {
	conn := newScriptedConn(`{"serverContent":{"turnComplete":true}}`)

	m, err := NewManager(Dependencies{
		Config:      Config{Model: "models/test-live", MaxReconnectAttempts: 1},
		Instruction: func() string { return "instr" },
		Dial: func(ctx context.Context) (Conn, error) {
			return conn, nil
		},
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	go m.Run()
	events := collectEvents(t, m)

	for _, ev := range events {
		if ev.Kind == EventReady {
			t.Fatalf("manager must not report ready without a setup ack")
		}
	}
}
