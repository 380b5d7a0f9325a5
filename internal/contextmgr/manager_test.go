package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spike2204/intelligent-qa/internal/config"
	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/internal/repository"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
	"github.com/spike2204/intelligent-qa/pkg/tokenizer"
)

// summaryClient answers every compaction request with a fixed summary and
// records the prompts it saw.
type summaryClient struct {
	summary string
	err     error
	prompts []string
}

var _ llm.Client = (*summaryClient)(nil)

func (c *summaryClient) ModelName() string { return "test" }
func (c *summaryClient) Kind() string      { return "mock" }
func (c *summaryClient) Available() bool   { return true }

func (c *summaryClient) Chat(_ context.Context, req llm.Request) (string, error) {
	if len(req.Messages) > 0 {
		c.prompts = append(c.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	return c.summary, c.err
}

func (c *summaryClient) StreamChat(context.Context, llm.Request) (<-chan string, <-chan error, error) {
	contentCh := make(chan string)
	errCh := make(chan error, 1)
	close(contentCh)
	close(errCh)
	return contentCh, errCh, nil
}

func newManager(client llm.Client, threshold, rounds, budget int) (*Manager, *repository.Memory) {
	repos := repository.NewMemory()
	cfg := config.ContextConfig{
		SummaryThreshold: threshold,
		MaxHistoryRounds: rounds,
		MaxContextTokens: budget,
	}
	return NewManager(cfg, repos.Sessions, repos.Messages, client), repos
}

func TestSaveMessage_CompactsLongConversation(t *testing.T) {
	client := &summaryClient{summary: "用户在询问产品功能。"}
	m, repos := newManager(client, 3, 2, 4000)

	session, err := m.CreateSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Seven alternating turns. With threshold 3 and 2 history rounds the
	// first three messages end up folded into the summary.
	for i := 1; i <= 7; i++ {
		role := model.RoleUser
		if i%2 == 0 {
			role = model.RoleAssistant
		}
		if _, err := m.SaveMessage(context.Background(), session.ID, role, fmt.Sprintf("消息%d", i)); err != nil {
			t.Fatalf("SaveMessage %d: %v", i, err)
		}
	}

	got, err := m.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.MessageCount != 7 {
		t.Errorf("MessageCount = %d, want 7 (cumulative, never decremented)", got.MessageCount)
	}
	if got.Summary == "" {
		t.Fatal("summary not written")
	}

	raw, err := repos.Messages.ListBySession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(raw) != 4 {
		t.Fatalf("raw messages = %d, want 4", len(raw))
	}
	for i, want := range []string{"消息4", "消息5", "消息6", "消息7"} {
		if raw[i].Content != want {
			t.Errorf("raw[%d] = %q, want %q", i, raw[i].Content, want)
		}
	}

	// The second compaction must carry the first summary forward.
	if len(client.prompts) != 2 {
		t.Fatalf("compaction calls = %d, want 2", len(client.prompts))
	}
	if !strings.Contains(client.prompts[1], "之前的对话摘要：") {
		t.Error("second compaction prompt lost the previous summary")
	}
	if !strings.Contains(client.prompts[1], "消息3") {
		t.Error("second compaction prompt missing message 3")
	}
}

func TestSaveMessage_CompactionFailureKeepsHistory(t *testing.T) {
	client := &summaryClient{err: errors.New("model down")}
	m, repos := newManager(client, 3, 2, 4000)

	session, _ := m.CreateSession(context.Background(), nil)
	for i := 1; i <= 6; i++ {
		if _, err := m.SaveMessage(context.Background(), session.ID, model.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	raw, _ := repos.Messages.ListBySession(context.Background(), session.ID)
	if len(raw) != 6 {
		t.Errorf("raw messages = %d, want 6 (compaction failed, nothing deleted)", len(raw))
	}
	got, _ := m.GetSession(context.Background(), session.ID)
	if got.Summary != "" {
		t.Errorf("summary = %q, want empty", got.Summary)
	}
}

func TestBuildContext_RespectsTokenBudget(t *testing.T) {
	m, _ := newManager(&summaryClient{summary: "s"}, 100, 10, 4000)

	session, _ := m.CreateSession(context.Background(), nil)
	// Each message is 40 latin chars, about 10 estimated tokens.
	content := strings.Repeat("abcd", 10)
	for i := 0; i < 8; i++ {
		if _, err := m.SaveMessage(context.Background(), session.ID, model.RoleUser, content); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	budget := 35
	msgs, err := m.BuildContext(context.Background(), session.ID, budget)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	total := 0
	for _, msg := range msgs {
		total += tokenizer.EstimateTokens(msg.Content)
	}
	if total > budget {
		t.Errorf("history tokens %d exceed budget %d", total, budget)
	}
	if len(msgs) != 3 {
		t.Errorf("messages = %d, want 3 at 10 tokens each under budget 35", len(msgs))
	}
}

func TestBuildContext_SummaryLeadsAsSystemMessage(t *testing.T) {
	client := &summaryClient{summary: "早前讨论了安装问题。"}
	m, _ := newManager(client, 2, 1, 4000)

	session, _ := m.CreateSession(context.Background(), nil)
	for i := 1; i <= 5; i++ {
		if _, err := m.SaveMessage(context.Background(), session.ID, model.RoleUser, fmt.Sprintf("msg%d", i)); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	msgs, err := m.BuildContext(context.Background(), session.ID, 4000)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatal("empty context")
	}
	if msgs[0].Role != llm.RoleSystem || !strings.HasPrefix(msgs[0].Content, "之前的对话摘要：") {
		t.Errorf("first message = %+v, want summary system message", msgs[0])
	}
	for _, msg := range msgs[1:] {
		if msg.Role != llm.RoleUser {
			t.Errorf("unexpected role %q", msg.Role)
		}
	}
}

func TestBuildContext_ChronologicalOrder(t *testing.T) {
	m, _ := newManager(&summaryClient{summary: "s"}, 100, 10, 4000)

	session, _ := m.CreateSession(context.Background(), nil)
	for i := 1; i <= 3; i++ {
		role := model.RoleUser
		if i%2 == 0 {
			role = model.RoleAssistant
		}
		if _, err := m.SaveMessage(context.Background(), session.ID, role, fmt.Sprintf("turn%d", i)); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	msgs, err := m.BuildContext(context.Background(), session.ID, 4000)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	want := []string{"turn1", "turn2", "turn3"}
	if len(msgs) != len(want) {
		t.Fatalf("messages = %d, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, w)
		}
	}
}
