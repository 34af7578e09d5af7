package interview

import "time"

// Status is the lifecycle state of an interview session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusEnded      Status = "ended"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a session in this status can never transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusEnded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Speaker identifies one of the two logical parties in a transcript.
type Speaker string

const (
	SpeakerClient    Speaker = "client"
	SpeakerAssistant Speaker = "assistant"
)

// Utterance is one merged, speaker-attributed block of transcript text.
// Produced only by the transcript aggregator; immutable once appended.
type Utterance struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FrameRef points at a stored visual frame artifact.
type FrameRef struct {
	ArtifactURL string    `json:"artifactUrl"`
	Timestamp   time.Time `json:"timestamp"`
}

// Participant describes the employee being interviewed and the interview intent.
type Participant struct {
	Name          string   `json:"name"`
	Role          string   `json:"role"`
	Topics        []string `json:"topics"`
	InterviewType string   `json:"interviewType"`
	Goal          string   `json:"goal"`
	DurationMins  int      `json:"durationMins"`
}

// Session is one interview instance as persisted by the session store.
type Session struct {
	Token            string      `json:"token"`
	Participant      Participant `json:"participant"`
	Status           Status      `json:"status"`
	StartedAt        *time.Time  `json:"startedAt,omitempty"`
	EndedAt          *time.Time  `json:"endedAt,omitempty"`
	ResumptionHandle string      `json:"resumptionHandle,omitempty"`
	Transcript       []Utterance `json:"transcript"`
	Frames           []FrameRef  `json:"frames"`
	AudioURL         string      `json:"audioUrl,omitempty"`
	Document         *Document   `json:"document,omitempty"`
	DocumentMarkdown string      `json:"documentMarkdown,omitempty"`
}

// Document is the structured knowledge-transfer document produced by synthesis.
type Document struct {
	Title             string         `json:"title"`
	Summary           string         `json:"summary"`
	Sections          []TopicSection `json:"sections"`
	CriticalKnowledge []string       `json:"criticalKnowledge"`
	Gaps              []string       `json:"gaps"`
	RecommendedSteps  []string       `json:"recommendedSteps"`
	FollowUpQuestions []string       `json:"followUpQuestions"`
}

// TopicSection is one topic-scoped portion of the synthesized document.
type TopicSection struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}
