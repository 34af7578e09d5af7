package session

import (
	"strings"
	"time"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/interview"
)

// Aggregator merges consecutive same-speaker transcription fragments into one
// utterance. The upstream delivers transcription as incremental fragments;
// merging by speaker continuity keeps partial words out of the client and the
// store while audio keeps flowing independently.
type Aggregator struct {
	now   func() time.Time
	flush func(interview.Utterance)

	speaker   interview.Speaker
	buf       strings.Builder
	startedAt time.Time
}

// NewAggregator wires the flush sink that receives each completed utterance.
func NewAggregator(now func() time.Time, flush func(interview.Utterance)) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now, flush: flush}
}

// Append adds one fragment. A speaker change flushes the pending buffer first,
// so utterances come out one per speaker run, in arrival order.
func (a *Aggregator) Append(speaker interview.Speaker, fragment string) {
	if a.buf.Len() > 0 && a.speaker != speaker {
		a.Flush()
	}
	if a.buf.Len() == 0 {
		a.speaker = speaker
		a.startedAt = a.now()
	}
	a.buf.WriteString(fragment)
}

// Flush completes the pending utterance, if any. A buffer that trims to
// nothing is discarded without emission. The buffer is cleared in all cases.
func (a *Aggregator) Flush() {
	text := strings.TrimSpace(a.buf.String())
	speaker := a.speaker
	startedAt := a.startedAt
	a.buf.Reset()

	if text == "" {
		return
	}
	a.flush(interview.Utterance{Speaker: speaker, Text: text, Timestamp: startedAt})
}

// Pending reports whether an unflushed fragment buffer exists.
func (a *Aggregator) Pending() bool {
	return a.buf.Len() > 0
}
