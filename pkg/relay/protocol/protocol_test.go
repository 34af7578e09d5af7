package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientMessage_EndSession(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"end_session"}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error: %v", err)
	}
	if _, ok := msg.(ClientEndSession); !ok {
		t.Fatalf("got %T, want ClientEndSession", msg)
	}
}

func TestDecodeClientMessage_Media(t *testing.T) {
	raw := []byte(`{"realtime_input":{"media_chunks":[{"mime_type":"audio/pcm","data":"QUJD"},{"mime_type":"image/jpeg","data":"REVG"}]}}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error: %v", err)
	}
	media, ok := msg.(ClientMedia)
	if !ok {
		t.Fatalf("got %T, want ClientMedia", msg)
	}
	if len(media.RealtimeInput.MediaChunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(media.RealtimeInput.MediaChunks))
	}
	if media.RealtimeInput.MediaChunks[1].MimeType != "image/jpeg" {
		t.Fatalf("second chunk mime = %q", media.RealtimeInput.MediaChunks[1].MimeType)
	}
	if string(media.Raw) != string(raw) {
		t.Fatalf("raw bytes not preserved for upstream forwarding")
	}
}

func TestDecodeClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "invalid json", data: `{nope`},
		{name: "chunk missing mime_type", data: `{"realtime_input":{"media_chunks":[{"data":"QUJD"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeClientMessage([]byte(tt.data)); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

func TestDecodeClientMessage_OpaquePassthrough(t *testing.T) {
	raw := []byte(`{"client_content":{"turns":[]}}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error: %v", err)
	}
	opaque, ok := msg.(ClientOpaque)
	if !ok {
		t.Fatalf("got %T, want ClientOpaque", msg)
	}
	if string(opaque.Raw) != string(raw) {
		t.Fatalf("opaque frame mutated")
	}
}

func TestOutboundConstructors(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{name: "session_ready", v: SessionReady(), want: `{"type":"session_ready"}`},
		{name: "ai_audio", v: Audio("QUJD"), want: `{"type":"ai_audio","data":"QUJD"}`},
		{name: "ai_speaking", v: Speaking(true), want: `{"type":"ai_speaking","value":true}`},
		{name: "transcript", v: Transcript("client", "hi"), want: `{"type":"transcript","speaker":"client","text":"hi"}`},
		{name: "session_ended", v: SessionEnded("ended"), want: `{"type":"session_ended","reason":"ended"}`},
		{name: "error", v: Error("boom"), want: `{"type":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}
