// Package upstream owns the websocket connection to the realtime
// conversational-AI endpoint: setup handshake, reconnection with linear
// backoff, and resumption-handle continuity.
package upstream

// Wire shapes for the bidirectional generate-content stream. Field names
// follow the upstream JSON protocol (camelCase, proto-derived).

type setupEnvelope struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *content           `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *emptyObject       `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *emptyObject       `json:"outputAudioTranscription,omitempty"`
	SessionResumption        *sessionResumption `json:"sessionResumption,omitempty"`
}

type emptyObject struct{}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type sessionResumption struct {
	Handle string `json:"handle,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type serverEnvelope struct {
	SetupComplete           *emptyObject       `json:"setupComplete,omitempty"`
	ServerContent           *serverContent     `json:"serverContent,omitempty"`
	SessionResumptionUpdate *resumptionUpdate  `json:"sessionResumptionUpdate,omitempty"`
	GoAway                  *goAwayNotice      `json:"goAway,omitempty"`
	UsageMetadata           map[string]any     `json:"usageMetadata,omitempty"`
}

type serverContent struct {
	ModelTurn           *content           `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	InputTranscription  *transcriptionText `json:"inputTranscription,omitempty"`
	OutputTranscription *transcriptionText `json:"outputTranscription,omitempty"`
}

type transcriptionText struct {
	Text string `json:"text"`
}

type resumptionUpdate struct {
	NewHandle string `json:"newHandle"`
	Resumable bool   `json:"resumable"`
}

type goAwayNotice struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}
