// Package contextmgr owns conversation state: session creation, message
// persistence with a cumulative message counter, history compaction into a
// rolling summary, and assembly of the token-bounded message window sent
// to the model.
package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/spike2204/intelligent-qa/internal/config"
	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/internal/prompts"
	"github.com/spike2204/intelligent-qa/internal/repository"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
	"github.com/spike2204/intelligent-qa/pkg/logger"
	"github.com/spike2204/intelligent-qa/pkg/tokenizer"
)

const (
	compactionMaxTokens   = 500
	compactionTemperature = 0.3
)

// Manager coordinates per-session history state. MessageCount on a session
// is cumulative: compaction rewrites the stored messages but never
// decrements the counter, so thresholds fire on conversation length, not
// on what happens to be retained.
type Manager struct {
	cfg      config.ContextConfig
	sessions repository.SessionRepository
	messages repository.MessageRepository
	client   llm.Client

	mu     sync.Mutex
	states map[string]*sessionState
}

// sessionState serializes writers of one session and keeps at most one
// compaction in flight.
type sessionState struct {
	mu         sync.Mutex
	compacting bool
}

func NewManager(cfg config.ContextConfig, sessions repository.SessionRepository, messages repository.MessageRepository, client llm.Client) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: sessions,
		messages: messages,
		client:   client,
		states:   make(map[string]*sessionState),
	}
}

func (m *Manager) state(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[sessionID]
	if !ok {
		s = &sessionState{}
		m.states[sessionID] = s
	}
	return s
}

// CreateSession starts a conversation scoped to documentIDs (empty for
// open chat).
func (m *Manager) CreateSession(ctx context.Context, documentIDs []string) (*model.ChatSession, error) {
	session := &model.ChatSession{
		ID:          uuid.NewString(),
		DocumentIDs: strings.Join(documentIDs, ","),
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession loads one session.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	return m.sessions.Get(ctx, sessionID)
}

// SaveMessage persists one turn, bumps the cumulative counter, and runs a
// compaction pass when the conversation has grown past twice the summary
// threshold. Compaction failures are logged and leave the raw history in
// place.
func (m *Manager) SaveMessage(ctx context.Context, sessionID, role, content string) (*model.ChatMessage, error) {
	state := m.state(sessionID)
	state.mu.Lock()

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		state.mu.Unlock()
		return nil, err
	}

	message := &model.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		TokenCount: tokenizer.EstimateTokens(content),
	}
	if err := m.messages.Save(ctx, message); err != nil {
		state.mu.Unlock()
		return nil, fmt.Errorf("save message: %w", err)
	}

	session.MessageCount++
	if err := m.sessions.Update(ctx, session); err != nil {
		state.mu.Unlock()
		return nil, fmt.Errorf("update session: %w", err)
	}

	compact := m.cfg.SummaryThreshold > 0 &&
		session.MessageCount >= m.cfg.SummaryThreshold*2 &&
		!state.compacting
	if compact {
		state.compacting = true
	}
	state.mu.Unlock()

	if compact {
		m.compact(ctx, sessionID, state)
	}
	return message, nil
}

// ClearSession drops a session's raw messages and rolling summary. The
// cumulative message counter is left alone; it tracks conversation
// length, not retained state.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) error {
	state := m.state(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	messages, err := m.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	if err := m.messages.DeleteByIDs(ctx, ids); err != nil {
		return err
	}

	session.Summary = ""
	return m.sessions.Update(ctx, session)
}

// compact folds everything but the newest maxHistoryRounds*2 messages into
// the session summary. The LLM call runs outside the session lock; the
// result is committed under it.
func (m *Manager) compact(ctx context.Context, sessionID string, state *sessionState) {
	defer func() {
		state.mu.Lock()
		state.compacting = false
		state.mu.Unlock()
	}()

	messages, err := m.messages.ListBySession(ctx, sessionID)
	if err != nil {
		logger.Get().Warn("历史压缩读取消息失败", "sessionId", sessionID, "error", err)
		return
	}
	keep := m.cfg.MaxHistoryRounds * 2
	if keep <= 0 || len(messages) <= keep {
		return
	}
	old := messages[:len(messages)-keep]

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		logger.Get().Warn("历史压缩读取会话失败", "sessionId", sessionID, "error", err)
		return
	}

	summary, err := m.client.Chat(ctx, llm.Request{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: prompts.HistoryCompaction(renderHistory(session.Summary, old)),
		}},
		MaxTokens:   compactionMaxTokens,
		Temperature: compactionTemperature,
	})
	if err != nil {
		logger.Get().Warn("历史压缩失败，保留原始消息", "sessionId", sessionID, "error", err)
		return
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	current, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		logger.Get().Warn("历史压缩提交失败", "sessionId", sessionID, "error", err)
		return
	}
	// The compaction prompt already carried the previous summary through
	// renderHistory, so the reply subsumes it; storing the reply is how
	// each round's summary accumulates onto the last.
	current.Summary = summary
	if err := m.sessions.Update(ctx, current); err != nil {
		logger.Get().Warn("历史压缩提交失败", "sessionId", sessionID, "error", err)
		return
	}

	ids := make([]string, 0, len(old))
	for _, msg := range old {
		ids = append(ids, msg.ID)
	}
	if err := m.messages.DeleteByIDs(ctx, ids); err != nil {
		logger.Get().Warn("历史压缩删除旧消息失败", "sessionId", sessionID, "error", err)
		return
	}
	logger.Get().Info("会话历史已压缩", "sessionId", sessionID, "compacted", len(old))
}

// renderHistory flattens the previous summary and the turns to compact
// into the text the compaction prompt consumes.
func renderHistory(previousSummary string, messages []model.ChatMessage) string {
	var sb strings.Builder
	if previousSummary != "" {
		sb.WriteString(prompts.SummaryLead)
		sb.WriteString(previousSummary)
		sb.WriteString("\n\n")
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleAssistant:
			sb.WriteString("助手: ")
		default:
			sb.WriteString("用户: ")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// BuildContext assembles the wire messages for one generation: the rolling
// summary as a leading system message, then the newest raw turns packed
// backward until budget tokens or maxHistoryRounds*2 messages are reached.
// The returned slice is in chronological order.
func (m *Manager) BuildContext(ctx context.Context, sessionID string, budget int) ([]llm.Message, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	raw, err := m.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	maxMessages := m.cfg.MaxHistoryRounds * 2
	total := 0
	var selected []llm.Message
	for i := len(raw) - 1; i >= 0; i-- {
		if maxMessages > 0 && len(selected) >= maxMessages {
			break
		}
		tokens := raw[i].TokenCount
		if tokens == 0 {
			tokens = tokenizer.EstimateTokens(raw[i].Content)
		}
		if budget > 0 && total+tokens > budget {
			break
		}
		selected = append(selected, llm.Message{Role: wireRole(raw[i].Role), Content: raw[i].Content})
		total += tokens
	}

	out := make([]llm.Message, 0, len(selected)+1)
	if session.Summary != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: prompts.SummaryLead + session.Summary})
	}
	for i := len(selected) - 1; i >= 0; i-- {
		out = append(out, selected[i])
	}
	return out, nil
}

func wireRole(role string) string {
	switch role {
	case model.RoleAssistant:
		return llm.RoleAssistant
	case model.RoleSystem:
		return llm.RoleSystem
	default:
		return llm.RoleUser
	}
}
