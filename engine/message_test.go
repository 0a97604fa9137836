package engine_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/parley/engine"
)

func TestWindow(t *testing.T) {
	history := make([]engine.Message, 7)
	for i := range history {
		history[i] = engine.Message{ID: int64(i + 1), Content: fmt.Sprintf("m%d", i)}
	}

	require.Len(t, engine.Window(history, 3), 3)
	require.Equal(t, int64(5), engine.Window(history, 3)[0].ID, "window keeps the most recent entries")
	require.Len(t, engine.Window(history, 10), 7, "window never pads")
	require.Len(t, engine.Window(history, 0), 7, "non-positive size means unbounded")
	require.Empty(t, engine.Window(nil, 5))
}

func TestStopRequested(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"🛑 STOP", true},
		{"please 🛑 STOP now", true},
		{"stop", true},
		{"Stop.", true},
		{"let's stop here", true},
		{"dừng lại", true},
		{"Dừng!", true},
		{"the bus stops here", false},
		{"unstoppable progress", false},
		{"we should keep going", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, engine.StopRequested(tc.content), "content: %q", tc.content)
	}
}

func TestMessageValidate(t *testing.T) {
	valid := engine.Message{
		SessionID: "sess-1",
		Role:      engine.RoleAgentA,
		Content:   "hello",
		Signal:    engine.SignalContinue,
	}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*engine.Message){
		"missing session": func(m *engine.Message) { m.SessionID = "" },
		"unknown role":    func(m *engine.Message) { m.Role = "Narrator" },
		"unknown signal":  func(m *engine.Message) { m.Signal = "maybe" },
		"blank content":   func(m *engine.Message) { m.Content = "   " },
	} {
		t.Run(name, func(t *testing.T) {
			msg := valid
			mutate(&msg)
			var verr *engine.ValidationError
			require.ErrorAs(t, msg.Validate(), &verr)
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	require.Equal(t, engine.LanguageVietnamese, engine.DetectLanguage("Chúng ta nên dùng Redis không?"))
	require.Equal(t, engine.LanguageVietnamese, engine.DetectLanguage("cho tôi xem kế hoạch"))
	require.Equal(t, engine.LanguageEnglish, engine.DetectLanguage("Should we adopt Redis for caching?"))
	require.Equal(t, engine.LanguageEnglish, engine.DetectLanguage(""))
}

func TestValidateProposal(t *testing.T) {
	grounded := engine.PlanningState{
		Proposal: "1. Add WriteThrough() to engine/cache.go",
		Review:   "Check invalidation paths.",
	}
	ok, issues := engine.ValidateProposal(grounded)
	require.True(t, ok)
	require.Empty(t, issues)

	vague := engine.PlanningState{Proposal: "make everything better"}
	ok, issues = engine.ValidateProposal(vague)
	require.False(t, ok)
	require.NotEmpty(t, issues)

	empty := engine.PlanningState{Review: "fine by me, see engine/cache.go"}
	ok, issues = engine.ValidateProposal(empty)
	require.False(t, ok, "an empty proposal fails even with a grounded review")
	require.Contains(t, issues, "proposal text is empty")
}

func TestExtractFileRefs(t *testing.T) {
	refs := engine.ExtractFileRefs("see `engine/cache.go` and server/api.go, plus docs/readme and engine/cache.go again")
	require.Equal(t, []string{"engine/cache.go", "server/api.go"}, refs)
}
