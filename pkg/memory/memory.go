package memory

import (
	"fmt"
	"strings"
	"sync"

	"vocalis/pkg/history"
	"vocalis/pkg/llm"
)

// InterruptMethod selects the role used for the interruption marker
// written into memory.
const (
	InterruptAsSystem = "system"
	InterruptAsUser   = "user"
)

const interruptMarker = "[Interrupted by user]"

// interruptHint is appended to the system prompt when interruptions are
// recorded as user messages, so the model can make sense of the marker.
const interruptHint = "If you received `[Interrupted by user]` signal, you were interrupted."

// DisplayMeta carries optional character front-end metadata for a message.
type DisplayMeta struct {
	Name   string
	Avatar string
}

// Memory is the ordered conversation log of one agent instance. The log
// is append-only except for the single rewrite allowed by interrupt
// handling. All access goes through the defined operations.
type Memory struct {
	mu               sync.RWMutex
	messages         []llm.Message
	system           string
	interruptMethod  string
	interruptHandled bool
}

// New creates an empty memory with the given system prompt.
func New(system, interruptMethod string) *Memory {
	if interruptMethod != InterruptAsSystem {
		interruptMethod = InterruptAsUser
	}
	m := &Memory{interruptMethod: interruptMethod}
	m.SetSystem(system)
	return m
}

// SetSystem replaces the system prompt. With user-role interruptions the
// interrupt hint is appended so the next model turn understands the marker.
func (m *Memory) SetSystem(system string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interruptMethod == InterruptAsUser {
		system = system + "\n\n" + interruptHint
	}
	m.system = system
}

// AppendSystemSuffix extends the system prompt in place. Used for the MCP
// prompt when the engine falls back to prompt-mode tool calling.
func (m *Memory) AppendSystemSuffix(suffix string) {
	if suffix == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.system += "\n\n" + suffix
}

// System returns the current system prompt.
func (m *Memory) System() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.system
}

// Append adds one message to the log. Display metadata is attached when
// provided.
func (m *Memory) Append(role, content string, meta *DisplayMeta) {
	msg := llm.NewMessage(role, content)
	if meta != nil {
		msg.Name = meta.Name
		msg.Avatar = meta.Avatar
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// AppendParts normalizes a structured multi-part payload (keeping only its
// text parts) and appends the result.
func (m *Memory) AppendParts(role string, parts []llm.ContentPart, meta *DisplayMeta) {
	m.Append(role, llm.FlattenParts(parts), meta)
}

// AppendMessage adds an already-shaped message, preserving tool-call
// encodings and call ids.
func (m *Memory) AppendMessage(msg llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// RenderForModel appends the new user input and returns the full message
// list to send to the model. The append happens here, immediately, so
// memory and "what was sent" never diverge.
func (m *Memory) RenderForModel(userInput string, meta *DisplayMeta) []llm.Message {
	m.Append(llm.RoleUser, userInput, meta)
	return m.Messages()
}

// Messages returns a copy of the log.
func (m *Memory) Messages() []llm.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make([]llm.Message, len(m.messages))
	copy(cp, m.messages)
	return cp
}

// Len returns the number of stored messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// LoadFromHistory replaces the log with a system message followed by the
// role-mapped history entries. An empty history leaves only the system
// message.
func (m *Memory) LoadFromHistory(entries []history.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = m.messages[:0]
	m.messages = append(m.messages, llm.NewMessage(llm.RoleSystem, m.system))

	for _, e := range entries {
		role := llm.RoleAssistant
		if e.Role == history.RoleHuman {
			role = llm.RoleUser
		}
		m.messages = append(m.messages, llm.NewMessage(role, e.Content))
	}
}

// HandleInterrupt records that the user cut off the assistant mid-reply.
// Only the first call per turn has effect. If the last message is an
// in-progress assistant message its content is replaced with the heard
// part; otherwise a new assistant message is appended when heardText is
// non-empty. The interruption marker follows with the configured role.
func (m *Memory) HandleInterrupt(heardText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interruptHandled {
		return
	}
	m.interruptHandled = true

	if n := len(m.messages); n > 0 && m.messages[n-1].Role == llm.RoleAssistant {
		m.messages[n-1].Content = heardText + "..."
	} else if heardText != "" {
		m.messages = append(m.messages, llm.NewMessage(llm.RoleAssistant, heardText+"..."))
	}

	role := llm.RoleUser
	if m.interruptMethod == InterruptAsSystem {
		role = llm.RoleSystem
	}
	m.messages = append(m.messages, llm.NewMessage(role, interruptMarker))
}

// ResetInterruptGuard re-arms interrupt handling at the start of a new turn.
func (m *Memory) ResetInterruptGuard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptHandled = false
}

// StartGroupConversation appends a user message informing the model about
// the participants of a group conversation. promptFormat carries two %s
// verbs: the human name and the other AI participants.
func (m *Memory) StartGroupConversation(humanName string, aiParticipants []string, promptFormat string) {
	if promptFormat == "" {
		return
	}
	context := fmt.Sprintf(promptFormat, humanName, strings.Join(aiParticipants, ", "))
	m.Append(llm.RoleUser, context, nil)
}
