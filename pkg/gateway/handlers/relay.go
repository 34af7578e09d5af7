package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/artifacts"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/config"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/mw"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/publisher"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/relay/protocol"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/relay/session"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/relay/sessions"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/store"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/upstream"
)

// RelayHandler serves GET /v1/relay/{token}: upgrade the browser connection,
// validate the invite, and hand both ends to a relay.
type RelayHandler struct {
	Cfg       config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Artifacts artifacts.Store
	Publisher *publisher.Publisher
	Tracker   *sessions.Tracker
}

func (h *RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 32 << 10,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return mw.OriginAllowed(h.Cfg.CORSAllowedOrigins, origin)
		},
	}

	// Upgrade before validating so the client always hears why it was
	// rejected as a protocol frame rather than a bare HTTP status.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "session_token", token, "error", err)
		return
	}

	sess, err := h.Store.FindByToken(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		h.rejectWS(conn, "unknown session token")
		return
	}
	if err != nil {
		h.Logger.Error("failed to load session", "session_token", token, "error", err)
		h.rejectWS(conn, "failed to load session")
		return
	}
	if sess.Status.Terminal() {
		h.rejectWS(conn, "session is no longer available")
		return
	}

	relay, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      h.Logger.With("session_token", token),
		Session:     sess,
		Store:       h.Store,
		Artifacts:   h.Artifacts,
		Lifecycle:   h.Publisher,
		NewUpstream: h.newUpstream,
		Config: session.Config{
			PingInterval:        h.Cfg.RelayPingInterval,
			WriteTimeout:        h.Cfg.RelayWriteTimeout,
			MaxJSONMessageBytes: h.Cfg.RelayMaxJSONMessageBytes,
			OutboundQueueSize:   h.Cfg.RelayOutboundQueueSize,
			PersistTimeout:      h.Cfg.RelayPersistTimeout,
			CaptureAudio:        h.Cfg.CaptureAudio,
		},
	})
	if err != nil {
		h.Logger.Error("failed to build relay", "session_token", token, "error", err)
		h.rejectWS(conn, "failed to start session")
		return
	}

	unregister := h.Tracker.Register(token, sessions.Handle{
		Terminate: relay.Terminate,
		Notify:    relay.NotifyEnding,
	})
	defer unregister()

	if err := relay.Run(); err != nil {
		h.Logger.Error("relay ended with error", "session_token", token, "error", err)
	}
}

func (h *RelayHandler) newUpstream(resumptionHandle string, instruction func() string) (session.Upstream, error) {
	return upstream.NewManager(upstream.Dependencies{
		Logger: h.Logger,
		Config: upstream.Config{
			URL:                  h.Cfg.UpstreamURL,
			APIKey:               h.Cfg.GeminiAPIKey,
			Model:                h.Cfg.LiveModel,
			Voice:                h.Cfg.LiveVoice,
			MaxReconnectAttempts: h.Cfg.UpstreamMaxReconnectAttempts,
			ReconnectBaseDelay:   h.Cfg.UpstreamReconnectBaseDelay,
			HandshakeTimeout:     h.Cfg.UpstreamHandshakeTimeout,
			WriteTimeout:         h.Cfg.UpstreamWriteTimeout,
		},
		Instruction:      instruction,
		ResumptionHandle: resumptionHandle,
	})
}

// rejectWS delivers one error frame and closes the socket.
func (h *RelayHandler) rejectWS(conn *websocket.Conn, message string) {
	payload, err := json.Marshal(protocol.Error(message))
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(h.Cfg.RelayWriteTimeout))
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""),
		time.Now().Add(h.Cfg.RelayWriteTimeout))
	_ = conn.Close()
}
