package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vocalis/pkg/agent"
	"vocalis/pkg/api"
	"vocalis/pkg/config"
	"vocalis/pkg/history"
	"vocalis/pkg/llm"
	"vocalis/pkg/mcp"
	"vocalis/pkg/memory"
	"vocalis/pkg/pipeline"
)

// ChatHandler orchestrates the conversation flow. It maintains one agent
// instance (resolver plus memory) per session, routes streams back
// through the gateway, applies interrupts to the right session, and
// persists conversation history after every completed turn.
type ChatHandler struct {
	client       llm.ModelClient
	responder    api.MessageResponder
	config       *config.Config
	systemConfig *config.SystemConfig
	registry     *mcp.Registry
	servers      *mcp.ServerManager
	store        *history.Store
	pipe         *pipeline.Pipeline

	sessions map[string]*session
	mu       sync.Mutex
}

// session is one conversation unit: a resolver bound to its own memory,
// a lock serializing its turns, and the cancel handle of the in-flight
// turn so an interrupt can abort it.
type session struct {
	id       string
	resolver *agent.Resolver

	mu     sync.Mutex
	cancel context.CancelFunc
	cmu    sync.Mutex
}

func (s *session) setCancel(cancel context.CancelFunc) {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	s.cancel = cancel
}

func (s *session) abort() bool {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// NewMessageHandler initializes a ChatHandler and returns a closure
// compatible with api.MessageHandler for registration with the gateway.
func NewMessageHandler(client llm.ModelClient, responder api.MessageResponder, cfg *config.Config, sysCfg *config.SystemConfig, registry *mcp.Registry, servers *mcp.ServerManager) api.MessageHandler {
	h := &ChatHandler{
		client:       client,
		responder:    responder,
		config:       cfg,
		systemConfig: sysCfg,
		registry:     registry,
		servers:      servers,
		store:        history.NewStore(sysCfg.HistoryDir),
		pipe:         pipeline.NewBuilder().Build(),
		sessions:     make(map[string]*session),
	}
	return h.OnMessage
}

// OnMessage is the entry point for messages arriving from the gateway.
// Interrupts are applied inline; regular input starts an asynchronous
// turn so the channel read loop is never blocked by model latency.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	sess := h.session(msg.Session)

	if msg.Interrupt {
		h.handleInterrupt(sess, msg)
		return
	}

	if strings.HasPrefix(msg.Content, "/") {
		h.handleSlashCommand(sess, msg)
		return
	}

	go h.runTurn(sess, msg)
}

// session returns the agent instance for the message's conversation unit,
// creating and restoring it on first contact.
func (h *ChatHandler) session(sc api.SessionContext) *session {
	key := sc.ChannelID + ":" + sc.ChatID

	h.mu.Lock()
	defer h.mu.Unlock()

	if sess, ok := h.sessions[key]; ok {
		return sess
	}

	mem := memory.New(h.config.Agent.SystemPrompt, h.config.Agent.InterruptMethod)

	entries, err := h.store.Load(key)
	if err != nil {
		slog.Error("Failed to load history", "session", key, "error", err)
	} else if len(entries) > 0 {
		mem.LoadFromHistory(entries)
		slog.Info("History restored", "session", key, "entries", len(entries))
	}

	// A registry already in fallback means new sessions start there too.
	if h.registry.Disabled() && h.config.Agent.MCPPrompt != "" {
		mem.AppendSystemSuffix(h.config.Agent.MCPPrompt)
	}

	sess := &session{
		id: key,
		resolver: agent.NewResolver(h.client, mem, agent.Options{
			Registry: h.registry,
			Caller: &agent.MCPToolCaller{
				Servers:     h.servers,
				CallTimeout: time.Duration(h.systemConfig.MCPCallTimeoutMs) * time.Millisecond,
			},
			MCPPrompt: h.config.Agent.MCPPrompt,
			MaxRounds: h.systemConfig.MaxToolRounds,
			Buffer:    h.systemConfig.InternalChannelBuffer,
		}),
	}
	h.sessions[key] = sess
	return sess
}

// runTurn executes one complete conversation turn: resolver stream in,
// pipeline out, gateway delivery, then history persistence. Turns of the
// same session run strictly one at a time.
func (h *ChatHandler) runTurn(sess *session, msg *api.UnifiedMessage) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := time.Now()

	timeout := time.Duration(h.systemConfig.LLMTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sess.setCancel(cancel)
	defer func() {
		sess.setCancel(nil)
		cancel()
	}()

	// A fresh user turn re-arms the interrupt guard.
	sess.resolver.Memory().ResetInterruptGuard()

	var meta *memory.DisplayMeta
	if msg.Session.Username != "" {
		meta = &memory.DisplayMeta{Name: msg.Session.Username}
	}

	stream := sess.resolver.Chat(ctx, msg.Content, meta)
	out := h.pipe.Run(ctx, stream)

	if err := h.responder.StreamReply(msg.Session, out); err != nil {
		slog.Error("Failed to stream reply", "session", sess.id, "error", err)
		for range out {
			// drain so the resolver goroutine can finish
		}
	}

	h.persist(sess)
	slog.Info("Turn finished", "session", sess.id, "duration", time.Since(start).String())
}

// handleInterrupt aborts the in-flight turn (if any) and rewrites memory
// so the log reflects what the user actually heard.
func (h *ChatHandler) handleInterrupt(sess *session, msg *api.UnifiedMessage) {
	aborted := sess.abort()
	sess.resolver.Memory().HandleInterrupt(msg.Heard)
	slog.Info("Interrupt applied", "session", sess.id, "aborted_turn", aborted, "heard_len", len(msg.Heard))

	// The aborted turn persists nothing for its incomplete output, so
	// record the rewritten state here.
	h.persist(sess)
}

// persist writes the displayable part of the session memory to disk.
func (h *ChatHandler) persist(sess *session) {
	entries := toEntries(sess.resolver.Memory().Messages())
	if err := h.store.Save(sess.id, entries); err != nil {
		slog.Error("Failed to save history", "session", sess.id, "error", err)
	}
}

// handleSlashCommand executes manual commands that never enter memory.
// Supported: /tools (list discovered tools), /clear (reset conversation).
func (h *ChatHandler) handleSlashCommand(sess *session, msg *api.UnifiedMessage) {
	cmd := strings.TrimPrefix(strings.Fields(msg.Content)[0], "/")

	switch cmd {
	case "tools":
		tools := h.registry.ListAll()
		if len(tools) == 0 {
			h.responder.SendReply(msg.Session, "No tools available.")
			return
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%d tools available:\n", len(tools)))
		for _, t := range tools {
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", t.Name, t.RelatedServer, t.Description))
		}
		h.responder.SendReply(msg.Session, sb.String())

	case "clear":
		h.mu.Lock()
		delete(h.sessions, sess.id)
		h.mu.Unlock()
		if err := h.store.Save(sess.id, nil); err != nil {
			slog.Error("Failed to clear history", "session", sess.id, "error", err)
		}
		h.responder.SendReply(msg.Session, "Conversation cleared.")

	default:
		h.responder.SendReply(msg.Session, fmt.Sprintf("Unknown command: /%s", cmd))
	}
}

// toEntries maps conversation memory onto persistable history lines.
// System, tool-result and tool-call bookkeeping messages are working
// state of the resolver and are not part of the displayable history.
func toEntries(msgs []llm.Message) []history.Entry {
	var entries []history.Entry
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			entries = append(entries, history.Entry{Role: history.RoleHuman, Content: m.Content})
		case llm.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				continue
			}
			entries = append(entries, history.Entry{Role: history.RoleAI, Content: m.Content})
		}
	}
	return entries
}
