package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentdesk/acp"
)

func TestPendingMessageConsumedOnce(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()

	r.SetPendingMessage(a, "first")
	r.SetPendingMessage(a, "second")

	msg, ok := r.ConsumePendingMessage(a)
	require.True(t, ok)
	assert.Equal(t, "second", msg)

	_, ok = r.ConsumePendingMessage(a)
	assert.False(t, ok)
}

func TestEmptyPendingMessageIsStillQueued(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()
	r.SetPendingMessage(a, "")
	msg, ok := r.ConsumePendingMessage(a)
	assert.True(t, ok)
	assert.Empty(t, msg)
}

func TestDraftReadDoesNotConsume(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()

	r.SetDraft(a, "work in progress")
	assert.Equal(t, "work in progress", r.Draft(a))
	assert.Equal(t, "work in progress", r.Draft(a))

	r.ClearDraft(a)
	assert.Empty(t, r.Draft(a))
	r.ClearDraft(a)
}

func TestPendingAttachmentsConsumedOnce(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()
	blocks := []acp.ContentBlock{
		acp.NewResourceLink("main.go", "file:///src/main.go"),
		acp.NewTextContent("note"),
	}

	r.SetPendingAttachments(a, blocks)
	blocks[1] = acp.NewTextContent("mutated")

	got := r.ConsumePendingAttachments(a)
	require.Len(t, got, 2)
	assert.Equal(t, "note", got[1].Text)
	assert.Nil(t, r.ConsumePendingAttachments(a))
}

func TestDraftsRefreshRecency(t *testing.T) {
	r := newRegistry(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	sa, sb := newFakeSession(), newFakeSession()
	r.Put(a, sa, "")
	r.Put(b, sb, "")

	// Touching a's draft makes b the coldest identity.
	r.SetDraft(a, "still typing")
	r.Put(c, newFakeSession(), "")

	sb.waitClosed(t)
	_, ok := r.Get(b)
	assert.False(t, ok)
	_, ok = r.Get(a)
	assert.True(t, ok)
	assert.Equal(t, "still typing", r.Draft(a))
}

func TestDraftOnlyIdentitiesCountTowardCapacity(t *testing.T) {
	r := newRegistry(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	r.SetDraft(a, "a")
	r.SetPendingMessage(b, "b")
	r.SetDraft(c, "c")

	assert.Equal(t, []uuid.UUID{c, b}, r.Identities())
	assert.Empty(t, r.Draft(a))
	msg, ok := r.ConsumePendingMessage(b)
	assert.True(t, ok)
	assert.Equal(t, "b", msg)
}

func TestEmptyDraftsReleaseTheirSlot(t *testing.T) {
	r := newRegistry(4)
	a := uuid.New()

	r.SetDraft(a, "x")
	r.ClearDraft(a)
	assert.Empty(t, r.Identities())

	r.SetPendingMessage(a, "m")
	_, _ = r.ConsumePendingMessage(a)
	assert.Empty(t, r.Identities())

	r.SetDraft(a, "")
	assert.Empty(t, r.Identities())
}
