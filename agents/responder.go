// Package agents binds conversation roles to LLM backends.
package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/llm"
)

// signalMarker is the trailing control token agents emit to report whose
// turn comes next, e.g. "[SIGNAL: handover]".
var signalMarker = regexp.MustCompile(`(?i)\[SIGNAL:\s*(continue|handover|stop)\]\s*$`)

// ParseSignal strips the trailing signal marker from a completion and
// returns the cleaned text with the declared signal. Missing or malformed
// markers default to continue.
func ParseSignal(text string) (string, engine.Signal) {
	match := signalMarker.FindStringSubmatch(text)
	if match == nil {
		return strings.TrimSpace(text), engine.SignalContinue
	}
	cleaned := strings.TrimSpace(signalMarker.ReplaceAllString(text, ""))
	return cleaned, engine.Signal(strings.ToLower(match[1]))
}

// ChatModel is the completion surface the responder needs; *llm.Client
// satisfies it.
type ChatModel interface {
	Chat(ctx context.Context, messages []llm.ChatMessage, opts *llm.Options) (*llm.Response, error)
}

// LLMResponder produces turns for one agent role by prompting a chat model.
type LLMResponder struct {
	model   ChatModel
	role    engine.Role
	persona string
	opts    llm.Options
}

// NewLLMResponder binds a role and persona to a chat model.
func NewLLMResponder(model ChatModel, role engine.Role, persona string, opts llm.Options) *LLMResponder {
	return &LLMResponder{model: model, role: role, persona: persona, opts: opts}
}

// Respond renders the request into a chat prompt, calls the model, and
// parses the signal marker out of the completion.
func (r *LLMResponder) Respond(ctx context.Context, req engine.Request) (engine.Reply, error) {
	messages := []llm.ChatMessage{{Role: "system", Content: r.systemPrompt(req)}}
	switch req.Directive {
	case engine.DirectivePlanStep:
		messages = append(messages, llm.ChatMessage{Role: "user", Content: req.Instruction})
	default:
		messages = append(messages, r.historyMessages(req)...)
	}
	resp, err := r.model.Chat(ctx, messages, &r.opts)
	if err != nil {
		return engine.Reply{}, &engine.ResponderFailure{Role: r.role, Err: err}
	}
	text, signal := ParseSignal(resp.Text)
	if text == "" {
		return engine.Reply{}, &engine.ResponderFailure{Role: r.role, Err: fmt.Errorf("empty completion")}
	}
	return engine.Reply{Text: text, Signal: signal}, nil
}

func (r *LLMResponder) systemPrompt(req engine.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s in a moderated discussion.\n", displayName(r.role))
	if r.persona != "" {
		b.WriteString(r.persona)
		b.WriteString("\n")
	}
	if req.Topic != "" && req.Directive != engine.DirectivePlanStep {
		fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	}
	if req.Language == engine.LanguageVietnamese {
		b.WriteString("Respond in Vietnamese.\n")
	} else {
		b.WriteString("Respond in English.\n")
	}
	switch req.Directive {
	case engine.DirectiveSummarize:
		b.WriteString("The human has ended the discussion. Summarize the whole conversation: ")
		b.WriteString("positions taken, points of agreement, and open disagreements.\n")
	case engine.DirectivePlanStep:
		b.WriteString("You are executing one step of a planning workflow. Follow the instruction exactly and ground every claim in the provided context.\n")
	default:
		b.WriteString("Engage with the latest points directly. Be concrete and brief.\n")
	}
	b.WriteString("End your reply with exactly one control token on its own line: ")
	b.WriteString("[SIGNAL: continue] to pass the turn onward, [SIGNAL: handover] to pause for the human, ")
	b.WriteString("or [SIGNAL: stop] if the discussion has genuinely concluded.")
	return b.String()
}

// historyMessages converts the window into chat turns from this agent's
// point of view: its own messages become assistant turns, everyone else is
// a labelled user turn.
func (r *LLMResponder) historyMessages(req engine.Request) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(req.History)+len(req.Snippets))
	if len(req.Snippets) > 0 {
		out = append(out, llm.ChatMessage{
			Role:    "user",
			Content: "Reference material:\n\n" + strings.Join(req.Snippets, "\n---\n"),
		})
	}
	for _, msg := range req.History {
		if msg.Role == r.role {
			out = append(out, llm.ChatMessage{Role: "assistant", Content: msg.Content})
			continue
		}
		out = append(out, llm.ChatMessage{
			Role:    "user",
			Content: fmt.Sprintf("[%s]: %s", displayName(msg.Role), msg.Content),
		})
	}
	return out
}

func displayName(role engine.Role) string {
	switch role {
	case engine.RoleAgentA:
		return "Agent A"
	case engine.RoleAgentB:
		return "Agent B"
	case engine.RoleHuman:
		return "Moderator"
	}
	return string(role)
}
