package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentdesk/acp"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func chunk(role acp.MessageRole, text string, at time.Time) acp.MessageChunkEvent {
	return acp.MessageChunkEvent{Role: role, Content: acp.NewTextContent(text), At: at}
}

func call(id string, kind acp.ToolKind, status acp.ToolCallStatus, at time.Time) acp.ToolCallEvent {
	return acp.ToolCallEvent{At: at, Call: acp.ToolCall{ID: id, Title: id, Kind: kind, Status: status, StartedAt: at, UpdatedAt: at}}
}

func TestChunksExtendLastMessageOfSameRole(t *testing.T) {
	tl := New(0)
	assert.True(t, tl.Apply(chunk(acp.RoleAgent, "Hello", t0)))
	assert.True(t, tl.Apply(chunk(acp.RoleAgent, " world", t0.Add(time.Second))))
	tl.Apply(chunk(acp.RoleThought, "hmm", t0.Add(2*time.Second)))
	tl.Apply(chunk(acp.RoleAgent, "again", t0.Add(3*time.Second)))

	items := tl.Items()
	require.Len(t, items, 3)
	first := items[0].(Message)
	assert.Equal(t, "Hello world", first.Text)
	assert.Equal(t, t0, first.Timestamp())
	assert.Equal(t, acp.RoleThought, items[1].(Message).Role)
	assert.Equal(t, "again", items[2].(Message).Text)
	assert.NotEqual(t, items[0].StableID(), items[2].StableID())
}

func TestStableAndDynamicIdentity(t *testing.T) {
	tl := New(0)
	tl.Apply(chunk(acp.RoleAgent, "Hel", t0))
	before := tl.Items()[0]

	tl.Apply(chunk(acp.RoleAgent, "lo", t0))
	after := tl.Items()[0]

	assert.Equal(t, before.StableID(), after.StableID())
	assert.NotEqual(t, before.DynamicID(), after.DynamicID())
	assert.Equal(t, after.DynamicID(), tl.Items()[0].DynamicID())
}

func TestToolCallUpdateChangesDynamicIDOnly(t *testing.T) {
	tl := New(0)
	tl.Apply(call("t1", acp.ToolKindRead, acp.ToolCallPending, t0))
	before := tl.Items()[0]

	tl.Apply(call("t1", acp.ToolKindRead, acp.ToolCallCompleted, t0))
	items := tl.Items()
	require.Len(t, items, 1)
	assert.Equal(t, KindToolCall, items[0].Kind())
	assert.Equal(t, "t1", items[0].StableID())
	assert.NotEqual(t, before.DynamicID(), items[0].DynamicID())
	assert.Equal(t, acp.ToolCallCompleted, items[0].(ToolCall).Call.Status)
}

func TestConsecutiveToolCallsGroup(t *testing.T) {
	tl := New(0)
	tl.Apply(chunk(acp.RoleAgent, "looking", t0))
	tl.Apply(call("t1", acp.ToolKindRead, acp.ToolCallCompleted, t0.Add(time.Second)))
	tl.Apply(call("t2", acp.ToolKindSearch, acp.ToolCallInProgress, t0.Add(2*time.Second)))
	tl.Apply(call("t3", acp.ToolKindRead, acp.ToolCallPending, t0.Add(3*time.Second)))
	tl.Apply(chunk(acp.RoleAgent, "done", t0.Add(4*time.Second)))
	tl.Apply(call("t4", acp.ToolKindEdit, acp.ToolCallCompleted, t0.Add(5*time.Second)))

	items := tl.Items()
	require.Len(t, items, 4)
	assert.Equal(t, KindMessage, items[0].Kind())

	g, ok := items[1].(ToolCallGroup)
	require.True(t, ok)
	assert.Equal(t, "group:t1", g.StableID())
	assert.Equal(t, t0.Add(time.Second), g.Timestamp())
	assert.Len(t, g.Calls, 3)
	assert.Equal(t, acp.ToolCallInProgress, g.Status())

	assert.Equal(t, KindMessage, items[2].Kind())
	assert.Equal(t, KindToolCall, items[3].Kind(), "a lone call is not grouped")

	before := g.DynamicID()
	tl.Apply(call("t2", acp.ToolKindSearch, acp.ToolCallCompleted, t0.Add(2*time.Second)))
	g2 := tl.Items()[1].(ToolCallGroup)
	assert.Equal(t, g.StableID(), g2.StableID())
	assert.NotEqual(t, before, g2.DynamicID())
}

func TestGroupStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []acp.ToolCallStatus
		want     acp.ToolCallStatus
	}{
		{"all pending", []acp.ToolCallStatus{acp.ToolCallPending, acp.ToolCallPending}, acp.ToolCallPending},
		{"some running", []acp.ToolCallStatus{acp.ToolCallCompleted, acp.ToolCallInProgress}, acp.ToolCallInProgress},
		{"pending and done", []acp.ToolCallStatus{acp.ToolCallCompleted, acp.ToolCallPending}, acp.ToolCallInProgress},
		{"one failed", []acp.ToolCallStatus{acp.ToolCallCompleted, acp.ToolCallFailed}, acp.ToolCallFailed},
		{"running beats failed", []acp.ToolCallStatus{acp.ToolCallFailed, acp.ToolCallInProgress}, acp.ToolCallInProgress},
		{"all done", []acp.ToolCallStatus{acp.ToolCallCompleted, acp.ToolCallCompleted}, acp.ToolCallCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g ToolCallGroup
			for i, s := range tt.statuses {
				g.Calls = append(g.Calls, acp.ToolCall{ID: string(rune('a' + i)), Status: s})
			}
			assert.Equal(t, tt.want, g.Status())
		})
	}
}

func TestTurnSummary(t *testing.T) {
	tl := New(0)
	result := acp.TurnResult{
		StartedAt:  t0,
		Duration:   3 * time.Second,
		StopReason: acp.StopReasonEndTurn,
		ToolCalls: []acp.ToolCall{
			{ID: "r", Kind: acp.ToolKindRead, Locations: []acp.ToolLocation{{Path: "/w/read.go"}}},
			{ID: "e", Kind: acp.ToolKindEdit, Locations: []acp.ToolLocation{{Path: "/w/b.go"}}},
			{ID: "d", Kind: acp.ToolKindEdit, Content: []acp.ToolCallContent{{Type: "diff", Path: "/w/a.go", NewText: "x"}}},
			{ID: "m", Kind: acp.ToolKindMove, Locations: []acp.ToolLocation{{Path: "/w/b.go"}}},
		},
	}
	assert.True(t, tl.Apply(acp.TurnCompleteEvent{Result: result}))
	assert.True(t, tl.Apply(acp.TurnCompleteEvent{Result: acp.TurnResult{StopReason: acp.StopReasonAborted}}))

	items := tl.Items()
	require.Len(t, items, 2)
	s := items[0].(TurnSummary)
	assert.Equal(t, KindTurnSummary, s.Kind())
	assert.Equal(t, 4, s.ToolCalls)
	assert.Equal(t, 3*time.Second, s.Duration)
	assert.Equal(t, t0.Add(3*time.Second), s.Timestamp())
	assert.Equal(t, []string{"/w/a.go", "/w/b.go"}, s.FilesChanged)
	assert.NotEqual(t, s.StableID(), items[1].StableID())
	assert.Equal(t, acp.StopReasonAborted, items[1].(TurnSummary).StopReason)
}

func TestIgnoredEvents(t *testing.T) {
	tl := New(0)
	assert.False(t, tl.Apply(acp.PlanEvent{}))
	assert.False(t, tl.Apply(acp.ModeChangedEvent{ModeID: "code"}))
	assert.False(t, tl.Apply(chunk(acp.RoleAgent, "", t0)))
	assert.Zero(t, tl.Len())
}

func TestAddUserMessage(t *testing.T) {
	tl := New(0)
	tl.AddUserMessage("fix the bug", t0)
	tl.Apply(chunk(acp.RoleAgent, "ok", t0.Add(time.Second)))

	items := tl.Items()
	require.Len(t, items, 2)
	assert.Equal(t, acp.RoleUser, items[0].(Message).Role)
	assert.Equal(t, "fix the bug", items[0].(Message).Text)
}

func TestRenderBlock(t *testing.T) {
	assert.Equal(t, "hi", renderBlock(acp.NewTextContent("hi")))
	assert.Equal(t, "[main.go](file:///main.go)", renderBlock(acp.NewResourceLink("main.go", "file:///main.go")))
	assert.Equal(t, "[image image/png]", renderBlock(acp.NewImageContent("image/png", "AAAA")))
	assert.Empty(t, renderBlock(acp.ContentBlock{Type: "resource"}))
}

func TestMaxEntriesDropsOldest(t *testing.T) {
	tl := New(2)
	tl.AddUserMessage("one", t0)
	tl.Apply(call("t1", acp.ToolKindRead, acp.ToolCallCompleted, t0))
	tl.AddUserMessage("three", t0)

	items := tl.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "t1", items[0].StableID())
}
