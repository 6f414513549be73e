package intent

import (
	"context"
	"fmt"
	"strings"

	"kodai/internal/llm"
	"kodai/internal/logging"
)

// Intent routes an utterance to one of three handling paths.
type Intent string

const (
	// IntentDirect answers conversationally without tools.
	IntentDirect Intent = "DIRECT"
	// IntentTool runs a single explicitly named tool.
	IntentTool Intent = "TOOL"
	// IntentTask plans and executes a multi-step change.
	IntentTask Intent = "TASK"
)

// Decision is the classifier output: the routed intent plus any labels
// the model attached.
type Decision struct {
	Intent Intent
	Labels []string
	Raw    string
}

// actionableLabels are labels that each imply real project work. Two or
// more of them together upgrade the decision to TASK.
var actionableLabels = map[string]bool{
	"modify_files":  true,
	"create_files":  true,
	"write_tests":   true,
	"refactor_code": true,
	"fix_bugs":      true,
	"run_search":    true,
}

// strongTaskLabels upgrade to TASK on their own.
var strongTaskLabels = map[string]bool{
	"multi_step":        true,
	"implement_feature": true,
}

const classifierPrompt = `You are an intent router for a coding assistant. Classify the user's latest message into exactly one intent:

- DIRECT: a question or discussion answerable from conversation alone.
- TOOL: a single explicit operation on the project (read one file, list a directory, search once).
- TASK: work that requires planning multiple steps that change the project.

Reply with exactly two lines:
INTENT: <DIRECT|TOOL|TASK>
LABELS: <comma-separated labels from: modify_files, create_files, write_tests, refactor_code, fix_bugs, run_search, multi_step, implement_feature, question, chat>

No other text.`

// Classifier labels utterances with a single tool-less model call.
type Classifier struct {
	client llm.Client
	// contextTurns bounds how much recent conversation is shown.
	contextTurns int
}

// NewClassifier creates a classifier on top of a model client. The
// classification call never exposes tools; the caller is responsible
// for reapplying its tool declarations afterwards.
func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{client: client, contextTurns: 6}
}

// Classify routes an utterance. It never streams visible text and never
// fails the session: on provider errors or unparseable replies it falls
// back to DIRECT.
func (c *Classifier) Classify(ctx context.Context, history []*llm.Turn, utterance string) Decision {
	if strings.TrimSpace(utterance) == "" {
		return Decision{Intent: IntentDirect}
	}

	c.client.SetTools(nil)

	prompt := c.buildPrompt(history, utterance)
	stream, err := c.client.SendMessageWithHistory(ctx, nil, prompt)
	if err != nil {
		logging.Warn("intent classification request failed", "error", err)
		return Decision{Intent: IntentDirect}
	}

	reply, err := llm.CollectText(ctx, stream)
	if err != nil {
		logging.Warn("intent classification stream failed", "error", err)
		return Decision{Intent: IntentDirect}
	}

	decision := ParseDecision(reply)
	logging.Debug("intent classified", "intent", decision.Intent, "labels", decision.Labels)
	return decision
}

// buildPrompt folds the instructions, a bounded window of recent turns,
// and the utterance into one message.
func (c *Classifier) buildPrompt(history []*llm.Turn, utterance string) string {
	var b strings.Builder
	b.WriteString(classifierPrompt)

	recent := history
	if len(recent) > c.contextTurns {
		recent = recent[len(recent)-c.contextTurns:]
	}
	if len(recent) > 0 {
		b.WriteString("\n\nRecent conversation:\n")
		for _, turn := range recent {
			text := strings.TrimSpace(turn.Text())
			if text == "" {
				continue
			}
			if len(text) > 400 {
				text = text[:400] + "..."
			}
			b.WriteString(fmt.Sprintf("[%s] %s\n", turn.Role, text))
		}
	}

	b.WriteString("\nUser message:\n")
	b.WriteString(utterance)
	return b.String()
}

// ParseDecision extracts intent and labels from a classifier reply.
// Anything outside the closed label set defaults to DIRECT; multi-intent
// labels may then upgrade the result to TASK.
func ParseDecision(reply string) Decision {
	decision := Decision{Intent: IntentDirect, Raw: reply}

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "INTENT:"):
			value := strings.TrimSpace(upper[len("INTENT:"):])
			switch Intent(value) {
			case IntentDirect, IntentTool, IntentTask:
				decision.Intent = Intent(value)
			}
		case strings.HasPrefix(upper, "LABELS:"):
			raw := strings.TrimSpace(line[len("LABELS:"):])
			for _, label := range strings.Split(raw, ",") {
				label = strings.ToLower(strings.TrimSpace(label))
				if label != "" {
					decision.Labels = append(decision.Labels, label)
				}
			}
		}
	}

	if upgraded := refineLabels(decision.Labels); upgraded {
		decision.Intent = IntentTask
	}

	return decision
}

// refineLabels reports whether the labels force a TASK upgrade.
func refineLabels(labels []string) bool {
	actionable := 0
	for _, label := range labels {
		if strongTaskLabels[label] {
			return true
		}
		if actionableLabels[label] {
			actionable++
		}
	}
	return actionable >= 2
}
