package acp

import "encoding/json"

// ProtocolVersion is the ACP version this client speaks.
const ProtocolVersion = 1

// SessionID identifies a protocol session. The agent assigns it in the
// session/new response and it never changes afterwards.
type SessionID string

// String returns the raw identifier.
func (id SessionID) String() string { return string(id) }

// --- Initialize ---

// InitializeRequest is sent by the client to establish the connection.
type InitializeRequest struct {
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
	ClientInfo         *Implementation    `json:"clientInfo,omitempty"`
	ProtocolVersion    int                `json:"protocolVersion"`
}

// InitializeResponse is returned by the agent with its capabilities.
type InitializeResponse struct {
	AgentInfo         *Implementation   `json:"agentInfo,omitempty"`
	AuthMethods       []AuthMethod      `json:"authMethods,omitempty"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	ProtocolVersion   int               `json:"protocolVersion"`
}

// Implementation identifies a client or agent.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version,omitempty"`
}

// ClientCapabilities advertises what the client supports.
type ClientCapabilities struct {
	Fs       FsCapability `json:"fs"`
	Terminal bool         `json:"terminal"`
}

// FsCapability describes file system capabilities.
type FsCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// AgentCapabilities advertises what the agent supports.
type AgentCapabilities struct {
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
	McpCapabilities    McpCapabilities    `json:"mcpCapabilities"`
	LoadSession        bool               `json:"loadSession,omitempty"`
}

// PromptCapabilities lists the content kinds a prompt may carry beyond text.
type PromptCapabilities struct {
	Image           bool `json:"image,omitempty"`
	Audio           bool `json:"audio,omitempty"`
	EmbeddedContext bool `json:"embeddedContext,omitempty"`
}

// McpCapabilities describes supported MCP transports. Stdio is always
// supported by ACP agents and therefore not advertised.
type McpCapabilities struct {
	HTTP bool `json:"http,omitempty"`
	SSE  bool `json:"sse,omitempty"`
}

// AuthMethod describes one way the agent can authenticate.
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// --- Authenticate ---

// AuthenticateRequest selects one of the advertised auth methods.
type AuthenticateRequest struct {
	MethodID string `json:"methodId"`
}

// --- Session ---

// NewSessionRequest creates a new conversation session.
type NewSessionRequest struct {
	CWD        string            `json:"cwd"`
	McpServers []MCPServerConfig `json:"mcpServers"`
}

// NewSessionResponse returns the created session info.
type NewSessionResponse struct {
	Modes     *ModesInfo  `json:"modes,omitempty"`
	Models    *ModelsInfo `json:"models,omitempty"`
	SessionID SessionID   `json:"sessionId"`
}

// ModesInfo is the agent's current mode plus the modes it offers.
// CurrentModeID may name a mode missing from AvailableModes.
type ModesInfo struct {
	CurrentModeID  string        `json:"currentModeId"`
	AvailableModes []SessionMode `json:"availableModes"`
}

// Lookup returns the mode with the given id, if the agent advertised it.
func (m ModesInfo) Lookup(id string) (SessionMode, bool) {
	for _, mode := range m.AvailableModes {
		if mode.ID == id {
			return mode, true
		}
	}
	return SessionMode{}, false
}

// SessionMode is one selectable agent mode.
type SessionMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ModelsInfo is the agent's current model plus the models it offers.
// CurrentModelID may name a model missing from AvailableModels.
type ModelsInfo struct {
	CurrentModelID  string      `json:"currentModelId"`
	AvailableModels []ModelInfo `json:"availableModels"`
}

// Lookup returns the model with the given id, if the agent advertised it.
func (m ModelsInfo) Lookup(id string) (ModelInfo, bool) {
	for _, model := range m.AvailableModels {
		if model.ID == id {
			return model, true
		}
	}
	return ModelInfo{}, false
}

// ModelInfo is one selectable model.
type ModelInfo struct {
	ID          string `json:"modelId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SetModeRequest switches the session mode.
type SetModeRequest struct {
	SessionID SessionID `json:"sessionId"`
	ModeID    string    `json:"modeId"`
}

// SetModelRequest switches the session model.
type SetModelRequest struct {
	SessionID SessionID `json:"sessionId"`
	ModelID   string    `json:"modelId"`
}

// --- Prompt ---

// PromptRequest sends a user prompt to the agent.
type PromptRequest struct {
	SessionID SessionID      `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResponse ends a prompt turn.
type PromptResponse struct {
	StopReason StopReason `json:"stopReason"`
}

// CancelNotification asks the agent to stop the running turn.
type CancelNotification struct {
	SessionID SessionID `json:"sessionId"`
}

// --- Content Blocks ---

// ContentBlock is typed content in prompts and messages, discriminated by
// Type: "text", "image", "audio", "resource_link" or "resource".
type ContentBlock struct {
	Resource *EmbeddedResource `json:"resource,omitempty"`
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	MimeType string            `json:"mimeType,omitempty"`
	Data     string            `json:"data,omitempty"` // base64
	URI      string            `json:"uri,omitempty"`
	Name     string            `json:"name,omitempty"`
}

// EmbeddedResource is the body of a "resource" content block.
type EmbeddedResource struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// NewTextContent creates a text content block.
func NewTextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// NewResourceLink creates a resource_link block pointing at a file.
func NewResourceLink(name, uri string) ContentBlock {
	return ContentBlock{Type: "resource_link", Name: name, URI: uri}
}

// NewImageContent creates an image block from base64 data.
func NewImageContent(mimeType, base64Data string) ContentBlock {
	return ContentBlock{Type: "image", MimeType: mimeType, Data: base64Data}
}

// --- Session Update (notification from agent) ---

// SessionNotification is the params of a session/update notification.
type SessionNotification struct {
	SessionID SessionID     `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// SessionUpdate is a union keyed by the "sessionUpdate" field. Only the
// fields of the active kind are populated.
type SessionUpdate struct {
	Content           *ContentBlock          `json:"-"`
	ToolContent       []ToolCallContent      `json:"-"`
	RawInput          map[string]interface{} `json:"rawInput,omitempty"`
	RawOutput         interface{}            `json:"rawOutput,omitempty"`
	Kind              string                 `json:"sessionUpdate"`
	ToolCallID        string                 `json:"toolCallId,omitempty"`
	Title             string                 `json:"title,omitempty"`
	ToolKind          ToolKind               `json:"kind,omitempty"`
	Status            ToolCallStatus         `json:"status,omitempty"`
	CurrentModeID     string                 `json:"currentModeId,omitempty"`
	Locations         []ToolLocation         `json:"locations,omitempty"`
	Entries           []PlanEntry            `json:"entries,omitempty"`
	AvailableCommands []AvailableCommand     `json:"availableCommands,omitempty"`
	Meta              json.RawMessage        `json:"_meta,omitempty"`
}

// UnmarshalJSON decodes "content", which is a single block for message
// chunks and a list for tool calls.
func (u *SessionUpdate) UnmarshalJSON(data []byte) error {
	type plain SessionUpdate
	var aux struct {
		plain
		Content json.RawMessage `json:"content,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = SessionUpdate(aux.plain)
	if len(aux.Content) == 0 || string(aux.Content) == "null" {
		return nil
	}
	switch u.Kind {
	case UpdateAgentMessageChunk, UpdateUserMessageChunk, UpdateAgentThoughtChunk:
		var block ContentBlock
		if err := json.Unmarshal(aux.Content, &block); err != nil {
			return err
		}
		u.Content = &block
	case UpdateToolCall, UpdateToolCallUpdate:
		return json.Unmarshal(aux.Content, &u.ToolContent)
	}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (u SessionUpdate) MarshalJSON() ([]byte, error) {
	type plain SessionUpdate
	aux := struct {
		plain
		Content interface{} `json:"content,omitempty"`
	}{plain: plain(u)}
	switch {
	case u.Content != nil:
		aux.Content = u.Content
	case u.ToolContent != nil:
		aux.Content = u.ToolContent
	}
	return json.Marshal(aux)
}

// ToolKind classifies what a tool call does.
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindDelete  ToolKind = "delete"
	ToolKindMove    ToolKind = "move"
	ToolKindSearch  ToolKind = "search"
	ToolKindExecute ToolKind = "execute"
	ToolKindThink   ToolKind = "think"
	ToolKindFetch   ToolKind = "fetch"
	ToolKindOther   ToolKind = "other"
)

// IsReadOnly reports whether the tool kind cannot modify the workspace.
func (k ToolKind) IsReadOnly() bool {
	switch k {
	case ToolKindRead, ToolKindSearch, ToolKindThink, ToolKindFetch:
		return true
	}
	return false
}

// ChangesFiles reports whether the tool kind writes to the workspace.
func (k ToolKind) ChangesFiles() bool {
	return k == ToolKindEdit || k == ToolKindDelete || k == ToolKindMove
}

// ToolCallStatus is the execution status of a tool call.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// IsTerminal reports whether the tool call has finished.
func (s ToolCallStatus) IsTerminal() bool {
	return s == ToolCallCompleted || s == ToolCallFailed
}

// ToolCallContent is produced output of a tool call: a content block or a diff.
type ToolCallContent struct {
	Content *ContentBlock `json:"content,omitempty"`
	OldText *string       `json:"oldText,omitempty"`
	Type    string        `json:"type"` // "content" or "diff"
	Path    string        `json:"path,omitempty"`
	NewText string        `json:"newText,omitempty"`
}

// ToolLocation is a file a tool call touches.
type ToolLocation struct {
	Line *int   `json:"line,omitempty"`
	Path string `json:"path"`
}

// PlanEntry is a single step in the agent's plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Status   string `json:"status,omitempty"`   // "pending", "in_progress", "completed"
	Priority string `json:"priority,omitempty"` // "high", "medium", "low"
}

// AvailableCommand describes a slash command the agent accepts.
type AvailableCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// --- Agent-to-Client Requests ---

// ReadTextFileRequest is sent by the agent to read a file.
type ReadTextFileRequest struct {
	Line      *int      `json:"line,omitempty"`  // 1-based
	Limit     *int      `json:"limit,omitempty"` // number of lines
	SessionID SessionID `json:"sessionId"`
	Path      string    `json:"path"`
}

// ReadTextFileResponse returns the file content.
type ReadTextFileResponse struct {
	Content string `json:"content"`
}

// WriteTextFileRequest is sent by the agent to write a file.
type WriteTextFileRequest struct {
	SessionID SessionID `json:"sessionId"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
}

// RequestPermissionRequest is sent by the agent before running a tool the
// client has to approve.
type RequestPermissionRequest struct {
	SessionID SessionID          `json:"sessionId"`
	ToolCall  ToolCallInfo       `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// ToolCallInfo describes the tool call awaiting permission.
type ToolCallInfo struct {
	RawInput   map[string]interface{} `json:"rawInput,omitempty"`
	ToolCallID string                 `json:"toolCallId"`
	Title      string                 `json:"title,omitempty"`
	Kind       ToolKind               `json:"kind,omitempty"`
	Status     ToolCallStatus         `json:"status,omitempty"`
	Locations  []ToolLocation         `json:"locations,omitempty"`
}

// PermissionOptionKind hints at what selecting an option means.
type PermissionOptionKind string

const (
	PermissionAllowOnce    PermissionOptionKind = "allow_once"
	PermissionAllowAlways  PermissionOptionKind = "allow_always"
	PermissionRejectOnce   PermissionOptionKind = "reject_once"
	PermissionRejectAlways PermissionOptionKind = "reject_always"
)

// PermissionOption describes a permission choice.
type PermissionOption struct {
	ID   string               `json:"optionId"`
	Name string               `json:"name"`
	Kind PermissionOptionKind `json:"kind"`
}

// RequestPermissionResponse returns the user's permission choice.
type RequestPermissionResponse struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome is "cancelled" or "selected" with the chosen option.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// CancelledOutcome is the outcome sent when a prompt is abandoned.
func CancelledOutcome() PermissionOutcome {
	return PermissionOutcome{Outcome: "cancelled"}
}

// SelectedOutcome picks optionID.
func SelectedOutcome(optionID string) PermissionOutcome {
	return PermissionOutcome{Outcome: "selected", OptionID: optionID}
}
