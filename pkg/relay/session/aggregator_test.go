package session

import (
	"testing"
	"time"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/interview"
)

func collectingAggregator(t *testing.T) (*Aggregator, *[]interview.Utterance) {
	t.Helper()
	var got []interview.Utterance
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	now := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	agg := NewAggregator(now, func(u interview.Utterance) {
		got = append(got, u)
	})
	return agg, &got
}

func TestAggregator_MergesSameSpeakerRun(t *testing.T) {
	agg, got := collectingAggregator(t)

	agg.Append(interview.SpeakerClient, "Let me explain")
	agg.Append(interview.SpeakerClient, " the deploy")
	agg.Append(interview.SpeakerClient, " process")
	agg.Flush()

	if len(*got) != 1 {
		t.Fatalf("expected 1 utterance, got %d: %+v", len(*got), *got)
	}
	u := (*got)[0]
	if u.Text != "Let me explain the deploy process" {
		t.Fatalf("merged text = %q", u.Text)
	}
	if u.Speaker != interview.SpeakerClient {
		t.Fatalf("speaker = %q", u.Speaker)
	}
}

func TestAggregator_SpeakerChangeFlushesPending(t *testing.T) {
	agg, got := collectingAggregator(t)

	agg.Append(interview.SpeakerAssistant, "What does the rollback")
	agg.Append(interview.SpeakerAssistant, " look like?")
	agg.Append(interview.SpeakerClient, "We rerun the last good build.")
	agg.Flush()

	if len(*got) != 2 {
		t.Fatalf("expected 2 utterances, got %d: %+v", len(*got), *got)
	}
	if (*got)[0].Speaker != interview.SpeakerAssistant {
		t.Fatalf("first speaker = %q", (*got)[0].Speaker)
	}
	if (*got)[1].Speaker != interview.SpeakerClient {
		t.Fatalf("second speaker = %q", (*got)[1].Speaker)
	}
	if (*got)[0].Text != "What does the rollback look like?" {
		t.Fatalf("first text = %q", (*got)[0].Text)
	}
}

func TestAggregator_WhitespaceOnlyFlushDiscarded(t *testing.T) {
	agg, got := collectingAggregator(t)

	agg.Append(interview.SpeakerClient, "  \n\t ")
	agg.Flush()

	if len(*got) != 0 {
		t.Fatalf("expected no utterances, got %+v", *got)
	}
	if agg.Pending() {
		t.Fatalf("buffer should be cleared after flush")
	}
}

func TestAggregator_EmptyFlushIsNoop(t *testing.T) {
	agg, got := collectingAggregator(t)
	agg.Flush()
	agg.Flush()
	if len(*got) != 0 {
		t.Fatalf("expected no utterances, got %+v", *got)
	}
}

func TestAggregator_TimestampIsBufferStart(t *testing.T) {
	agg, got := collectingAggregator(t)

	agg.Append(interview.SpeakerClient, "first")
	agg.Append(interview.SpeakerClient, " second")
	agg.Flush()

	if len(*got) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(*got))
	}
	want := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	if !(*got)[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", (*got)[0].Timestamp, want)
	}
}

func TestAggregator_TrimsFlushedText(t *testing.T) {
	agg, got := collectingAggregator(t)

	agg.Append(interview.SpeakerAssistant, "  hello ")
	agg.Flush()

	if len(*got) != 1 || (*got)[0].Text != "hello" {
		t.Fatalf("got %+v", *got)
	}
}
