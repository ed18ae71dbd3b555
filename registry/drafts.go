package registry

import (
	"github.com/google/uuid"

	"github.com/bazelment/agentdesk/acp"
)

// drafts is the unsent input kept for one identity.
type drafts struct {
	message     *string
	text        string
	attachments []acp.ContentBlock
}

func (d *drafts) empty() bool {
	return d.message == nil && d.text == "" && len(d.attachments) == 0
}

// draftsLocked returns id's drafts, creating them, and refreshes id's
// recency.
func (r *Registry) draftsLocked(id uuid.UUID) *drafts {
	d, ok := r.drafts[id]
	if !ok {
		d = &drafts{}
		r.drafts[id] = d
	}
	r.touchLocked(id)
	return d
}

// SetPendingMessage queues msg to be sent once for id, replacing any queued
// message.
func (r *Registry) SetPendingMessage(id uuid.UUID, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draftsLocked(id).message = &msg
	r.evictLocked()
}

// ConsumePendingMessage returns and clears id's queued message.
func (r *Registry) ConsumePendingMessage(id uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[id]
	if !ok || d.message == nil {
		return "", false
	}
	msg := *d.message
	d.message = nil
	r.touchLocked(id)
	r.dropIfEmptyLocked(id)
	return msg, true
}

// SetDraft stores the editable input text for id.
func (r *Registry) SetDraft(id uuid.UUID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draftsLocked(id).text = text
	r.dropIfEmptyLocked(id)
	r.evictLocked()
}

// Draft returns id's input text without clearing it.
func (r *Registry) Draft(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[id]
	if !ok {
		return ""
	}
	r.touchLocked(id)
	return d.text
}

// ClearDraft drops id's input text.
func (r *Registry) ClearDraft(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[id]
	if !ok {
		return
	}
	d.text = ""
	r.dropIfEmptyLocked(id)
}

// SetPendingAttachments queues blocks to accompany id's next prompt.
func (r *Registry) SetPendingAttachments(id uuid.UUID, blocks []acp.ContentBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draftsLocked(id).attachments = append([]acp.ContentBlock(nil), blocks...)
	r.dropIfEmptyLocked(id)
	r.evictLocked()
}

// ConsumePendingAttachments returns and clears id's queued attachments.
func (r *Registry) ConsumePendingAttachments(id uuid.UUID) []acp.ContentBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[id]
	if !ok || len(d.attachments) == 0 {
		return nil
	}
	out := d.attachments
	d.attachments = nil
	r.touchLocked(id)
	r.dropIfEmptyLocked(id)
	return out
}
