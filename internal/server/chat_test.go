package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/spike2204/intelligent-qa/internal/model"
)

func newSession(t *testing.T, env *testEnv, documentIDs []string) string {
	t.Helper()
	session, err := env.server.contexts.CreateSession(context.Background(), documentIDs)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session.ID
}

func TestStreamTurn_FallbackFrameOrder(t *testing.T) {
	primary := &streamClient{
		kind: "openai", model: "gpt-4",
		deltas:    []string{"Hel"},
		streamErr: errors.New("read timeout"),
	}
	fallback := &streamClient{
		kind: "dashscope", model: "qwen-max",
		deltas: []string{"lo", " world"},
	}
	env := newTestEnv(t, primary, fallback)
	sessionID := newSession(t, env, nil)

	turn, err := env.server.prepareTurn(context.Background(), chatRequest{
		Query: "你好", SessionID: sessionID,
	})
	if err != nil {
		t.Fatalf("prepareTurn: %v", err)
	}

	var frames []ChatChunk
	send := func(chunk ChatChunk) error {
		frames = append(frames, chunk)
		return nil
	}
	if err := env.server.streamTurn(context.Background(), turn, send); err != nil {
		t.Fatalf("streamTurn: %v", err)
	}

	if len(frames) != 5 {
		t.Fatalf("frames = %d, want 5: %+v", len(frames), frames)
	}
	if frames[0].Content != "Hel" {
		t.Errorf("frame 0 = %+v, want content Hel", frames[0])
	}
	if frames[1].Warning == "" ||
		!strings.Contains(frames[1].Warning, "gpt-4") ||
		!strings.Contains(frames[1].Warning, "qwen-max") {
		t.Errorf("frame 1 must warn with both model names, got %+v", frames[1])
	}
	if frames[2].Content != "lo" || frames[3].Content != " world" {
		t.Errorf("fallback deltas = %+v %+v", frames[2], frames[3])
	}
	last := frames[4]
	if !last.Complete || last.Content != "" || last.Error != "" {
		t.Errorf("terminal frame = %+v", last)
	}

	// The stitched answer spans both models and is persisted once.
	messages, err := env.repos.Messages.ListBySession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	var assistant []model.ChatMessage
	for _, msg := range messages {
		if msg.Role == model.RoleAssistant {
			assistant = append(assistant, msg)
		}
	}
	if len(assistant) != 1 || assistant[0].Content != "Hello world" {
		t.Errorf("assistant history = %+v, want one \"Hello world\"", assistant)
	}
}

func TestStreamTurn_NoFallbackEmitsErrorFrame(t *testing.T) {
	primary := &streamClient{
		kind: "openai", model: "gpt-4",
		streamErr: errors.New("connection reset"),
	}
	env := newTestEnv(t, primary, nil)
	sessionID := newSession(t, env, nil)

	turn, err := env.server.prepareTurn(context.Background(), chatRequest{
		Query: "你好", SessionID: sessionID,
	})
	if err != nil {
		t.Fatalf("prepareTurn: %v", err)
	}

	var frames []ChatChunk
	if err := env.server.streamTurn(context.Background(), turn, func(chunk ChatChunk) error {
		frames = append(frames, chunk)
		return nil
	}); err != nil {
		t.Fatalf("streamTurn: %v", err)
	}

	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1 terminal error frame: %+v", len(frames), frames)
	}
	if !frames[0].Complete || frames[0].Error == "" {
		t.Errorf("terminal frame = %+v", frames[0])
	}

	// No content accumulated, so nothing is saved as the assistant turn.
	messages, _ := env.repos.Messages.ListBySession(context.Background(), sessionID)
	for _, msg := range messages {
		if msg.Role == model.RoleAssistant {
			t.Errorf("assistant message persisted after total failure: %+v", msg)
		}
	}
}

func TestChatStream_SSETerminatesAfterCompleteFrame(t *testing.T) {
	primary := &streamClient{
		kind: "openai", model: "gpt-4",
		deltas: []string{"如下", "所示"},
	}
	env := newTestEnv(t, primary, nil)

	text := "# 使用说明\n\n" + strings.Repeat("详细的使用说明内容。", 40)
	doc := ingestReadyDocument(t, env, "manual.md", text)
	sessionID := newSession(t, env, []string{doc.ID})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/chat/stream?query=怎么使用&sessionId="+sessionID, nil)
	env.server.Routes().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, body %s", ct, rec.Body.String())
	}

	body := rec.Body.String()
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("body must end with a blank line, got %q", body)
	}
	rawFrames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")

	var frames []ChatChunk
	for _, raw := range rawFrames {
		if !strings.HasPrefix(raw, "data: ") {
			t.Fatalf("frame without data prefix: %q", raw)
		}
		var chunk ChatChunk
		if err := sonic.UnmarshalString(strings.TrimPrefix(raw, "data: "), &chunk); err != nil {
			t.Fatalf("decode frame %q: %v", raw, err)
		}
		frames = append(frames, chunk)
	}

	if len(frames) < 3 {
		t.Fatalf("frames = %d, want deltas plus terminal: %+v", len(frames), frames)
	}
	for i, frame := range frames[:len(frames)-1] {
		if frame.Complete {
			t.Errorf("frame %d marked complete before the terminal frame", i)
		}
	}
	last := frames[len(frames)-1]
	if !last.Complete || last.Content != "" {
		t.Errorf("terminal frame = %+v", last)
	}
	if len(last.Citations) == 0 {
		t.Error("terminal frame carries no citations for a document-scoped answer")
	}
}

func TestChatStream_MissingQuery(t *testing.T) {
	env := newTestEnv(t, &streamClient{kind: "mock", model: "m"}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream?sessionId=s1", nil)
	env.server.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChat_FallbackAnswerIsAnnotated(t *testing.T) {
	primary := &streamClient{kind: "openai", model: "gpt-4", chatErr: errors.New("boom")}
	fallback := &streamClient{kind: "dashscope", model: "qwen-max", answer: "可以这样做。"}
	env := newTestEnv(t, primary, fallback)
	sessionID := newSession(t, env, nil)

	payload, _ := sonic.Marshal(chatRequest{Query: "怎么做", SessionID: sessionID})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(payload))
	env.server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var chunk ChatChunk
	if err := sonic.Unmarshal(rec.Body.Bytes(), &chunk); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !chunk.Complete {
		t.Error("sync answer must be complete")
	}
	want := "（备用模型 qwen-max 回答）\n可以这样做。"
	if chunk.Content != want {
		t.Errorf("content = %q, want %q", chunk.Content, want)
	}
}

func TestChat_BothModelsFailing(t *testing.T) {
	primary := &streamClient{kind: "openai", model: "gpt-4", chatErr: errors.New("boom")}
	env := newTestEnv(t, primary, nil)
	sessionID := newSession(t, env, nil)

	payload, _ := sonic.Marshal(chatRequest{Query: "怎么做", SessionID: sessionID})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(payload))
	env.server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body %s", rec.Code, rec.Body.String())
	}
}

func TestChat_UnknownSession(t *testing.T) {
	env := newTestEnv(t, &streamClient{kind: "mock", model: "m"}, nil)

	payload, _ := sonic.Marshal(chatRequest{Query: "你好", SessionID: "missing"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(payload))
	env.server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessions_CreateAndClear(t *testing.T) {
	env := newTestEnv(t, &streamClient{kind: "mock", model: "m", answer: "好"}, nil)
	doc := ingestReadyDocument(t, env, "s.md", "# 章节\n\n会话测试内容。")

	payload, _ := sonic.Marshal(createSessionRequest{DocumentID: doc.ID})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/sessions", bytes.NewReader(payload))
	env.server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var dto SessionDto
	if err := sonic.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dto.DocumentIDs) != 1 || dto.DocumentIDs[0] != doc.ID {
		t.Fatalf("documentIds = %v", dto.DocumentIDs)
	}

	if _, err := env.server.contexts.SaveMessage(context.Background(), dto.ID, model.RoleUser, "第一问"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/chat/sessions/"+dto.ID, nil)
	env.server.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}

	messages, err := env.repos.Messages.ListBySession(context.Background(), dto.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("messages survived clear: %d", len(messages))
	}
}

func TestCreateSession_UnknownDocument(t *testing.T) {
	env := newTestEnv(t, &streamClient{kind: "mock", model: "m"}, nil)

	payload, _ := sonic.Marshal(createSessionRequest{DocumentID: "nope"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/sessions", bytes.NewReader(payload))
	env.server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
