package interview

import (
	"fmt"
	"strings"
)

// InstructionPrompt builds the system instruction sent to the upstream model
// in the setup handshake. When resuming a conversation that already captured
// transcript content the prompt tells the model to pick up mid-conversation
// instead of greeting again.
func InstructionPrompt(sess *Session, resuming bool) string {
	p := sess.Participant

	var b strings.Builder
	b.WriteString("You are an expert knowledge-transfer interviewer conducting a spoken interview.\n")

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "the employee"
	}
	role := strings.TrimSpace(p.Role)
	if role != "" {
		fmt.Fprintf(&b, "You are interviewing %s, who works as %s.\n", name, role)
	} else {
		fmt.Fprintf(&b, "You are interviewing %s.\n", name)
	}

	if goal := strings.TrimSpace(p.Goal); goal != "" {
		fmt.Fprintf(&b, "Goal of this interview: %s.\n", goal)
	}
	if t := strings.TrimSpace(p.InterviewType); t != "" {
		fmt.Fprintf(&b, "Interview type: %s.\n", t)
	}

	topics := make([]string, 0, len(p.Topics))
	for _, topic := range p.Topics {
		if topic = strings.TrimSpace(topic); topic != "" {
			topics = append(topics, topic)
		}
	}
	if len(topics) > 0 {
		fmt.Fprintf(&b, "Cover these topics in depth: %s.\n", strings.Join(topics, "; "))
	}
	if p.DurationMins > 0 {
		fmt.Fprintf(&b, "Keep the interview within roughly %d minutes.\n", p.DurationMins)
	}

	b.WriteString("Ask one focused question at a time. Dig into specifics: commands, file names, " +
		"failure modes, tribal knowledge that only this person holds. Ask follow-up questions " +
		"when an answer is vague. Speak naturally and keep your turns short.\n")

	if resuming || len(sess.Transcript) > 0 {
		b.WriteString("This is a resumed connection in an interview already underway. " +
			"Do not greet or introduce yourself again; continue from where the conversation left off.\n")
	} else {
		b.WriteString("Open by briefly introducing yourself and the purpose of the interview, then ask your first question.\n")
	}

	return b.String()
}

// TranscriptText renders the ordered transcript as plain "[speaker]: text" lines
// for synthesis input.
func TranscriptText(transcript []Utterance) string {
	var b strings.Builder
	for _, u := range transcript {
		fmt.Fprintf(&b, "[%s]: %s\n", u.Speaker, u.Text)
	}
	return b.String()
}
