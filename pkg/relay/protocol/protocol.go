package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// MediaChunk is one base64-encoded media payload from the browser capture loop.
type MediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// RealtimeInput carries media chunks bound for the upstream model.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

// ClientEndSession is the explicit end-of-interview control message.
type ClientEndSession struct {
	Type string `json:"type"`
}

// ClientMedia is an inbound frame carrying realtime media.
type ClientMedia struct {
	RealtimeInput RealtimeInput `json:"realtime_input"`

	// Raw preserves the original frame bytes so media messages can be
	// forwarded upstream verbatim.
	Raw []byte `json:"-"`
}

// ClientOpaque is any other inbound frame; it is relayed upstream untouched.
type ClientOpaque struct {
	Raw []byte
}

// DecodeClientMessage classifies one inbound client text frame.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type          string          `json:"type"`
		RealtimeInput json.RawMessage `json:"realtime_input"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	if strings.TrimSpace(envelope.Type) == "end_session" {
		return ClientEndSession{Type: "end_session"}, nil
	}

	if len(envelope.RealtimeInput) > 0 {
		var msg ClientMedia
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid realtime_input frame", "realtime_input")
		}
		for i, chunk := range msg.RealtimeInput.MediaChunks {
			if strings.TrimSpace(chunk.MimeType) == "" {
				return nil, badRequest("media chunk missing mime_type", fmt.Sprintf("realtime_input.media_chunks[%d]", i))
			}
		}
		msg.Raw = data
		return msg, nil
	}

	return ClientOpaque{Raw: data}, nil
}

// Outbound frames.

type ServerSessionReady struct {
	Type string `json:"type"`
}

type ServerAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type ServerSpeaking struct {
	Type  string `json:"type"`
	Value bool   `json:"value"`
}

type ServerTranscript struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type ServerSessionEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func SessionReady() ServerSessionReady {
	return ServerSessionReady{Type: "session_ready"}
}

func Audio(b64 string) ServerAudio {
	return ServerAudio{Type: "ai_audio", Data: b64}
}

func Speaking(value bool) ServerSpeaking {
	return ServerSpeaking{Type: "ai_speaking", Value: value}
}

func Transcript(speaker, text string) ServerTranscript {
	return ServerTranscript{Type: "transcript", Speaker: speaker, Text: text}
}

func SessionEnded(reason string) ServerSessionEnded {
	return ServerSessionEnded{Type: "session_ended", Reason: reason}
}

func Error(message string) ServerError {
	return ServerError{Type: "error", Message: message}
}
