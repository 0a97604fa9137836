package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/llm"
)

func TestParseSignal(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantText string
		wantSig  engine.Signal
	}{
		{"continue marker", "I agree with the premise.\n[SIGNAL: continue]", "I agree with the premise.", engine.SignalContinue},
		{"handover marker", "Over to you.\n[SIGNAL: handover]", "Over to you.", engine.SignalHandover},
		{"stop marker", "Nothing left to add. [SIGNAL: stop]", "Nothing left to add.", engine.SignalStop},
		{"case insensitive", "Done.\n[signal: HANDOVER]", "Done.", engine.SignalHandover},
		{"trailing whitespace", "Done.\n[SIGNAL: continue]   \n", "Done.", engine.SignalContinue},
		{"missing marker defaults", "Just text with no token.", "Just text with no token.", engine.SignalContinue},
		{"marker mid-text ignored", "[SIGNAL: stop] but I keep talking", "[SIGNAL: stop] but I keep talking", engine.SignalContinue},
		{"unknown token ignored", "Done. [SIGNAL: maybe]", "Done. [SIGNAL: maybe]", engine.SignalContinue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, sig := ParseSignal(tc.input)
			require.Equal(t, tc.wantText, text)
			require.Equal(t, tc.wantSig, sig)
		})
	}
}

type fakeModel struct {
	text     string
	err      error
	messages []llm.ChatMessage
}

func (f *fakeModel) Chat(ctx context.Context, messages []llm.ChatMessage, opts *llm.Options) (*llm.Response, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text}, nil
}

func TestRespondParsesCompletion(t *testing.T) {
	model := &fakeModel{text: "Caching wins here.\n[SIGNAL: handover]"}
	r := NewLLMResponder(model, engine.RoleAgentA, "You favor pragmatic solutions.", llm.Options{})

	reply, err := r.Respond(context.Background(), engine.Request{
		Role:      engine.RoleAgentA,
		Directive: engine.DirectiveRespond,
		Topic:     "caching",
		History: []engine.Message{
			{Role: engine.RoleHuman, Content: "debate caching"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Caching wins here.", reply.Text)
	require.Equal(t, engine.SignalHandover, reply.Signal)
}

func TestRespondPromptAssembly(t *testing.T) {
	model := &fakeModel{text: "ok [SIGNAL: continue]"}
	r := NewLLMResponder(model, engine.RoleAgentB, "persona text", llm.Options{})

	_, err := r.Respond(context.Background(), engine.Request{
		Role:      engine.RoleAgentB,
		Directive: engine.DirectiveRespond,
		Topic:     "retries",
		Snippets:  []string{"// pkg/retry.go\nfunc Backoff() {}"},
		History: []engine.Message{
			{Role: engine.RoleHuman, Content: "debate retries"},
			{Role: engine.RoleAgentA, Content: "retries mask bugs"},
			{Role: engine.RoleAgentB, Content: "retries absorb transient faults"},
		},
	})
	require.NoError(t, err)

	require.Equal(t, "system", model.messages[0].Role)
	require.Contains(t, model.messages[0].Content, "Agent B")
	require.Contains(t, model.messages[0].Content, "persona text")
	require.Contains(t, model.messages[0].Content, "Topic: retries")
	require.Contains(t, model.messages[0].Content, "[SIGNAL: continue]")

	require.Equal(t, "user", model.messages[1].Role)
	require.True(t, strings.HasPrefix(model.messages[1].Content, "Reference material:"))

	require.Equal(t, "[Moderator]: debate retries", model.messages[2].Content)
	require.Equal(t, "[Agent A]: retries mask bugs", model.messages[3].Content)

	// The agent's own prior turn becomes an assistant message.
	require.Equal(t, "assistant", model.messages[4].Role)
	require.Equal(t, "retries absorb transient faults", model.messages[4].Content)
}

func TestRespondPlanStepUsesInstructionOnly(t *testing.T) {
	model := &fakeModel{text: "analysis done [SIGNAL: continue]"}
	r := NewLLMResponder(model, engine.RoleAgentA, "", llm.Options{})

	_, err := r.Respond(context.Background(), engine.Request{
		Role:        engine.RoleAgentA,
		Directive:   engine.DirectivePlanStep,
		Step:        engine.StepAnalyze,
		Instruction: "Analyze the request against the provided context.",
		History: []engine.Message{
			{Role: engine.RoleHuman, Content: "this must not appear"},
		},
	})
	require.NoError(t, err)
	require.Len(t, model.messages, 2, "plan steps carry only system + instruction")
	require.Equal(t, "Analyze the request against the provided context.", model.messages[1].Content)
	require.Contains(t, model.messages[0].Content, "planning workflow")
}

func TestRespondVietnameseDirective(t *testing.T) {
	model := &fakeModel{text: "được [SIGNAL: continue]"}
	r := NewLLMResponder(model, engine.RoleAgentA, "", llm.Options{})

	_, err := r.Respond(context.Background(), engine.Request{
		Role:      engine.RoleAgentA,
		Directive: engine.DirectiveRespond,
		Language:  engine.LanguageVietnamese,
		History:   []engine.Message{{Role: engine.RoleHuman, Content: "tranh luận về cache"}},
	})
	require.NoError(t, err)
	require.Contains(t, model.messages[0].Content, "Respond in Vietnamese.")
}

func TestRespondWrapsModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("connection refused")}
	r := NewLLMResponder(model, engine.RoleAgentB, "", llm.Options{})

	_, err := r.Respond(context.Background(), engine.Request{
		Role:      engine.RoleAgentB,
		Directive: engine.DirectiveRespond,
		History:   []engine.Message{{Role: engine.RoleHuman, Content: "go"}},
	})
	var failure *engine.ResponderFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, engine.RoleAgentB, failure.Role)
}

func TestRespondRejectsEmptyCompletion(t *testing.T) {
	model := &fakeModel{text: "[SIGNAL: continue]"}
	r := NewLLMResponder(model, engine.RoleAgentA, "", llm.Options{})

	_, err := r.Respond(context.Background(), engine.Request{
		Role:      engine.RoleAgentA,
		Directive: engine.DirectiveRespond,
		History:   []engine.Message{{Role: engine.RoleHuman, Content: "go"}},
	})
	var failure *engine.ResponderFailure
	require.ErrorAs(t, err, &failure)
}
