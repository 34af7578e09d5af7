// Package session hosts the per-interview relay: one client websocket, one
// transient upstream connection, and the aggregation/persistence machinery
// between them. All mutable relay state is owned by the goroutine running
// Run; collaborator calls that may suspend happen off that goroutine.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/artifacts"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/metrics"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/interview"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/relay/protocol"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/store"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/upstream"
)

// ClientConn is the subset of *websocket.Conn the relay uses.
type ClientConn interface {
	wsWriter
	ReadMessage() (int, []byte, error)
	SetReadLimit(limit int64)
}

// Store is the persistence collaborator. Append operations are atomic;
// failures are logged and never interrupt the relay.
type Store interface {
	UpdateFields(ctx context.Context, token string, fields store.Fields) error
	AppendTranscript(ctx context.Context, token string, u interview.Utterance) error
	AppendFrame(ctx context.Context, token string, ref interview.FrameRef) error
}

// Lifecycle applies session state transitions.
type Lifecycle interface {
	MarkActive(ctx context.Context, sess *interview.Session) error
	PublishEnded(ctx context.Context, token string, hasTranscript bool) error
	PublishProcessing(ctx context.Context, token string) error
}

// Upstream is the connection manager contract the relay drives.
type Upstream interface {
	Run()
	Events() <-chan upstream.Event
	Send(raw []byte) bool
	Terminate()
	Handle() string
}

// UpstreamFactory builds the connection manager for one relay, seeded with
// the persisted resumption handle and a live instruction builder.
type UpstreamFactory func(resumptionHandle string, instruction func() string) (Upstream, error)

type Config struct {
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	MaxJSONMessageBytes int64
	OutboundQueueSize   int

	// PersistTimeout bounds each store/artifact call made off the relay
	// goroutine.
	PersistTimeout time.Duration

	// CaptureAudio keeps assistant PCM in memory and stores it as the
	// session audio artifact on detach.
	CaptureAudio          bool
	MaxCapturedAudioBytes int
}

type Dependencies struct {
	Conn        ClientConn
	Logger      *slog.Logger
	Session     *interview.Session
	Store       Store
	Artifacts   artifacts.Store
	Lifecycle   Lifecycle
	NewUpstream UpstreamFactory
	Config      Config
	Now         func() time.Time
}

// Relay orchestrates one live interview connection pair.
type Relay struct {
	conn        ClientConn
	logger      *slog.Logger
	sess        *interview.Session
	store       Store
	artifacts   artifacts.Store
	lifecycle   Lifecycle
	newUpstream UpstreamFactory
	cfg         Config
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan []byte
	outboundNormal   chan []byte
	persistCh        chan func()
	persistDone      chan struct{}

	aggregator *Aggregator
	detector   FrameDetector
	up         Upstream

	// utteranceCount includes transcript entries loaded with the session,
	// so resumed connections know the interview already has content. Atomic
	// because the upstream manager reads it when rebuilding the
	// instruction prompt during reconnects.
	utteranceCount atomic.Int64

	sessionTerminated    bool
	explicitEndRequested bool
	readySent            bool
	speaking             bool
	audioBuf             []byte
}

type inboundFrame struct {
	data []byte
	err  error
}

// errRelayDone signals an orderly relay shutdown from within the event loop.
var errRelayDone = errors.New("relay done")

func New(deps Dependencies) (*Relay, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("client connection is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle publisher is required")
	}
	if deps.NewUpstream == nil {
		return nil, fmt.Errorf("upstream factory is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 10 * time.Second
	}
	if deps.Config.MaxCapturedAudioBytes <= 0 {
		deps.Config.MaxCapturedAudioBytes = 32 << 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		conn:             deps.Conn,
		logger:           deps.Logger,
		sess:             deps.Session,
		store:            deps.Store,
		artifacts:        deps.Artifacts,
		lifecycle:        deps.Lifecycle,
		newUpstream:      deps.NewUpstream,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan []byte, 16),
		outboundNormal:   make(chan []byte, deps.Config.OutboundQueueSize),
		persistCh:        make(chan func(), 256),
		persistDone:      make(chan struct{}),
	}
	r.aggregator = NewAggregator(deps.Now, r.onUtterance)
	r.utteranceCount.Store(int64(len(deps.Session.Transcript)))
	return r, nil
}

// Run drives the relay until the client disconnects, requests an explicit
// end, or the upstream reconnect ceiling is exhausted.
func (r *Relay) Run() error {
	defer r.cancel()

	metrics.SessionsStarted.Inc()
	metrics.ActiveRelays.Inc()
	defer metrics.ActiveRelays.Dec()

	if r.cfg.MaxJSONMessageBytes > 0 {
		r.conn.SetReadLimit(r.cfg.MaxJSONMessageBytes)
	}

	go r.persistLoop()
	defer r.drainPersist()

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:       r.conn,
			ctx:      r.ctx,
			cfg:      r.cfg,
			priority: r.outboundPriority,
			normal:   r.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	readCh := make(chan inboundFrame, 64)
	go r.readLoop(readCh)

	markCtx, cancelMark := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	if err := r.lifecycle.MarkActive(markCtx, r.sess); err != nil {
		// State may diverge from storage until the next successful write;
		// the live interview takes precedence over the record of it.
		r.logger.Error("failed to mark session active", "session_token", r.sess.Token, "error", err)
	}
	cancelMark()

	up, err := r.newUpstream(r.sess.ResumptionHandle, r.instruction)
	if err != nil {
		r.sendPriority(protocol.Error("failed to reach interview service"))
		r.flushWriter(writerErrCh)
		return fmt.Errorf("create upstream manager: %w", err)
	}
	r.up = up
	go up.Run()
	defer up.Terminate()

	events := up.Events()

	for {
		select {
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				r.handleClientGone()
				r.flushWriter(writerErrCh)
				return nil
			}
			if err := r.handleClientFrame(frame.data); err != nil {
				r.flushWriter(writerErrCh)
				if errors.Is(err, errRelayDone) {
					return nil
				}
				return err
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := r.handleUpstreamEvent(ev); err != nil {
				r.flushWriter(writerErrCh)
				if errors.Is(err, errRelayDone) {
					return nil
				}
				return err
			}
		case <-writerErrCh:
			// Writer failure means the client socket is gone.
			r.handleClientGone()
			return nil
		case <-r.ctx.Done():
			// External termination (tracker eviction or process shutdown).
			r.handleClientGone()
			r.flushWriter(writerErrCh)
			return nil
		}
	}
}

// handleClientFrame routes one inbound client text frame. Malformed frames
// are dropped without tearing the connection down.
func (r *Relay) handleClientFrame(data []byte) error {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		r.logger.Warn("dropping malformed client frame", "session_token", r.sess.Token, "error", err)
		return nil
	}

	switch m := msg.(type) {
	case protocol.ClientEndSession:
		return r.handleExplicitEnd()
	case protocol.ClientMedia:
		r.handleMedia(m)
		return nil
	case protocol.ClientOpaque:
		r.up.Send(m.Raw)
		return nil
	default:
		return nil
	}
}

// handleExplicitEnd runs the graceful-termination path: flush, close
// upstream, persist terminal status ended (cancelled when nothing was ever
// said), acknowledge, and stop processing client messages.
func (r *Relay) handleExplicitEnd() error {
	if r.sessionTerminated {
		return errRelayDone
	}
	r.explicitEndRequested = true
	r.sessionTerminated = true

	r.aggregator.Flush()
	r.up.Terminate()

	hasTranscript := r.utteranceCount.Load() > 0
	token := r.sess.Token
	r.enqueuePersist(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()
		if err := r.lifecycle.PublishEnded(ctx, token, hasTranscript); err != nil {
			r.logger.Error("failed to publish ended status", "session_token", token, "error", err)
		}
	})
	r.uploadCapturedAudio()

	r.sendPriority(protocol.SessionEnded("ended"))
	return errRelayDone
}

// handleClientGone runs the ungraceful-detach path: unless an explicit end
// already handled termination, persist processing and trigger synthesis.
func (r *Relay) handleClientGone() {
	if r.sessionTerminated {
		return
	}
	r.sessionTerminated = true

	r.aggregator.Flush()
	r.up.Terminate()

	token := r.sess.Token
	r.enqueuePersist(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()
		if err := r.lifecycle.PublishProcessing(ctx, token); err != nil {
			r.logger.Error("failed to publish processing status", "session_token", token, "error", err)
		}
	})
	r.uploadCapturedAudio()
}

func (r *Relay) handleMedia(m protocol.ClientMedia) {
	// Forward first; frame capture must never delay the realtime path.
	r.up.Send(m.Raw)

	for _, chunk := range m.RealtimeInput.MediaChunks {
		if !strings.HasPrefix(chunk.MimeType, "image/") {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		if err != nil {
			r.logger.Warn("dropping undecodable image chunk", "session_token", r.sess.Token, "error", err)
			continue
		}
		if !r.detector.Changed(data) {
			metrics.FramesSkipped.Inc()
			continue
		}
		ts := r.now()
		mime := chunk.MimeType
		go r.uploadFrame(data, mime, ts)
	}
}

func (r *Relay) handleUpstreamEvent(ev upstream.Event) error {
	switch ev.Kind {
	case upstream.EventReady:
		if !r.readySent {
			r.readySent = true
			r.sendPriority(protocol.SessionReady())
		} else {
			r.logger.Info("upstream reconnected", "session_token", r.sess.Token)
		}
	case upstream.EventAudio:
		r.captureAudio(ev.Audio)
		if !r.speaking {
			r.speaking = true
			r.sendPriority(protocol.Speaking(true))
		}
		r.sendNormal(protocol.Audio(ev.Audio))
	case upstream.EventInputTranscription:
		r.aggregator.Append(interview.SpeakerClient, ev.Text)
	case upstream.EventOutputTranscription:
		r.aggregator.Append(interview.SpeakerAssistant, ev.Text)
	case upstream.EventTurnComplete:
		r.aggregator.Flush()
		if r.speaking {
			r.speaking = false
			r.sendPriority(protocol.Speaking(false))
		}
	case upstream.EventInterrupted:
		r.aggregator.Flush()
		if r.speaking {
			r.speaking = false
			r.sendPriority(protocol.Speaking(false))
		}
	case upstream.EventResumptionHandle:
		r.persistHandle(ev.Handle)
	case upstream.EventGoAway:
		r.logger.Info("upstream announced disconnect", "session_token", r.sess.Token, "time_left", ev.Reason)
	case upstream.EventTerminated:
		return r.handleUpstreamTerminated(ev.Reason)
	}
	return nil
}

// handleUpstreamTerminated ends the session after the reconnect ceiling is
// exhausted. The transcript captured so far is preserved and synthesis still
// runs; losing the upstream is not a data-loss event.
func (r *Relay) handleUpstreamTerminated(reason string) error {
	if r.sessionTerminated {
		return errRelayDone
	}
	r.sessionTerminated = true

	r.aggregator.Flush()

	token := r.sess.Token
	r.enqueuePersist(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()
		if err := r.lifecycle.PublishProcessing(ctx, token); err != nil {
			r.logger.Error("failed to publish processing status", "session_token", token, "error", err)
		}
	})
	r.uploadCapturedAudio()

	r.sendPriority(protocol.SessionEnded(reason))
	return errRelayDone
}

// onUtterance is the aggregator flush sink: emit to the client, then persist
// in order. The flush always happens-before either observer sees the text.
func (r *Relay) onUtterance(u interview.Utterance) {
	r.utteranceCount.Add(1)
	metrics.UtterancesPersisted.WithLabelValues(string(u.Speaker)).Inc()

	r.sendPriority(protocol.Transcript(string(u.Speaker), u.Text))

	token := r.sess.Token
	r.enqueuePersist(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()
		if err := r.store.AppendTranscript(ctx, token, u); err != nil {
			r.logger.Error("failed to append utterance", "session_token", token, "error", err)
		}
	})
}

// persistHandle stores a fresh resumption handle best-effort so a later
// reconnect or process restart can resume the upstream conversation.
func (r *Relay) persistHandle(handle string) {
	token := r.sess.Token
	r.enqueuePersist(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()
		if err := r.store.UpdateFields(ctx, token, store.Fields{"resumption_handle": handle}); err != nil {
			r.logger.Warn("failed to persist resumption handle", "session_token", token, "error", err)
		}
	})
}

func (r *Relay) uploadFrame(data []byte, mime string, ts time.Time) {
	if r.artifacts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()

	url, err := r.artifacts.Put(ctx, r.sess.Token, "frames", data, mime)
	if err != nil {
		// A missed frame is not fatal to the interview.
		r.logger.Warn("frame upload failed", "session_token", r.sess.Token, "error", err)
		return
	}
	if err := r.store.AppendFrame(ctx, r.sess.Token, interview.FrameRef{ArtifactURL: url, Timestamp: ts}); err != nil {
		r.logger.Warn("failed to append frame ref", "session_token", r.sess.Token, "error", err)
		return
	}
	metrics.FramesStored.Inc()
}

func (r *Relay) captureAudio(b64 string) {
	if !r.cfg.CaptureAudio || len(r.audioBuf) >= r.cfg.MaxCapturedAudioBytes {
		return
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return
	}
	r.audioBuf = append(r.audioBuf, data...)
}

func (r *Relay) uploadCapturedAudio() {
	if !r.cfg.CaptureAudio || len(r.audioBuf) == 0 || r.artifacts == nil {
		return
	}
	data := r.audioBuf
	r.audioBuf = nil
	token := r.sess.Token
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()
		url, err := r.artifacts.Put(ctx, token, "audio", data, "audio/pcm;rate=24000")
		if err != nil {
			r.logger.Warn("audio upload failed", "session_token", token, "error", err)
			return
		}
		if err := r.store.UpdateFields(ctx, token, store.Fields{"audio_url": url}); err != nil {
			r.logger.Warn("failed to persist audio url", "session_token", token, "error", err)
		}
	}()
}

func (r *Relay) instruction() string {
	return interview.InstructionPrompt(r.sess, r.utteranceCount.Load() > 0)
}

func (r *Relay) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		_, data, err := r.conn.ReadMessage()
		select {
		case out <- inboundFrame{data: data, err: err}:
		case <-r.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// persistLoop executes persistence jobs strictly in enqueue order, so a
// transcript flush lands before the terminal lifecycle write that follows it.
func (r *Relay) persistLoop() {
	defer close(r.persistDone)
	for job := range r.persistCh {
		job()
	}
}

// enqueuePersist never blocks the relay goroutine: a store stall must not
// stall media forwarding, so jobs beyond the queue depth are dropped.
func (r *Relay) enqueuePersist(job func()) {
	select {
	case r.persistCh <- job:
	default:
		r.logger.Warn("persistence queue full, dropping job", "session_token", r.sess.Token)
	}
}

func (r *Relay) drainPersist() {
	close(r.persistCh)
	<-r.persistDone
}

// flushWriter gives the writer a short window to deliver final frames.
func (r *Relay) flushWriter(writerErrCh <-chan error) {
	r.cancel()
	wait := 100 * time.Millisecond
	if r.cfg.WriteTimeout > 0 && r.cfg.WriteTimeout < wait {
		wait = r.cfg.WriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-writerErrCh:
	case <-timer.C:
	}
}

func (r *Relay) sendPriority(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case r.outboundPriority <- payload:
	case <-r.ctx.Done():
	}
}

// sendNormal enqueues audio; under backpressure the oldest queued frame is
// not worth waiting for, so the new frame is dropped instead of blocking the
// relay loop.
func (r *Relay) sendNormal(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case r.outboundNormal <- payload:
	default:
	}
}

// Terminate cancels the relay from outside (tracker eviction, process
// shutdown). Only the context is touched here: the Run goroutine owns the
// upstream manager and shuts it down itself when it observes the cancel.
func (r *Relay) Terminate() {
	r.cancel()
}

// NotifyEnding warns the client the gateway is draining.
func (r *Relay) NotifyEnding(reason string) {
	r.sendPriority(protocol.SessionEnded(reason))
}
