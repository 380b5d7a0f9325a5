package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/internal/prompts"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
	"github.com/spike2204/intelligent-qa/pkg/logger"
)

const answerTemperature = 0.7

type chatRequest struct {
	Query      string `json:"query"`
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId,omitempty"`
	ModelType  string `json:"modelType,omitempty"`
}

func (req *chatRequest) validate() error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query is required", errInvalidArgument)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: sessionId is required", errInvalidArgument)
	}
	return nil
}

// chatTurn carries everything prepared before generation starts.
type chatTurn struct {
	request   chatRequest
	retrieval *model.RetrievalResult
	messages  []llm.Message
	system    string
	client    llm.Client
}

// prepareTurn runs the shared front half of both chat paths: persist the
// user message, resolve the document scope, retrieve grounding, pick the
// system prompt, and assemble the history window.
func (s *Server) prepareTurn(ctx context.Context, req chatRequest) (*chatTurn, error) {
	session, err := s.contexts.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.contexts.SaveMessage(ctx, req.SessionID, model.RoleUser, req.Query); err != nil {
		return nil, err
	}

	documentIDs := parseDocumentIDs(req.DocumentID, nil)
	if len(documentIDs) == 0 {
		documentIDs = session.DocumentIDList()
	}

	result, err := s.retriever.Retrieve(ctx, req.Query, documentIDs)
	if err != nil {
		return nil, err
	}

	messages, err := s.contexts.BuildContext(ctx, req.SessionID, s.cfg.Context.MaxContextTokens/2)
	if err != nil {
		return nil, err
	}
	// The history window is packed newest-first under the budget, so the
	// just-saved user message is always its tail unless the budget is
	// degenerate.
	if len(messages) == 0 || messages[len(messages)-1].Content != req.Query {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Query})
	}

	return &chatTurn{
		request:   req,
		retrieval: result,
		messages:  messages,
		system:    s.systemPrompt(req.Query, result, len(documentIDs) > 0),
		client:    s.router.Client(req.ModelType),
	}, nil
}

// systemPrompt picks the template for this turn: open chat without
// documents, the not-found template when retrieval came back empty, and
// the summary or grounded template otherwise.
func (s *Server) systemPrompt(query string, result *model.RetrievalResult, hasDocuments bool) string {
	if !hasDocuments {
		return prompts.OpenChat()
	}
	if result == nil || result.Context == "" {
		return prompts.NoRelevantContent()
	}
	if prompts.IsSummaryIntent(query) {
		return prompts.DocumentSummary(result.Context)
	}
	return prompts.GroundedQA(result.Context)
}

func (t *chatTurn) llmRequest() llm.Request {
	return llm.Request{
		SystemPrompt: t.system,
		Messages:     t.messages,
		Temperature:  answerTemperature,
	}
}

// handleChat is the synchronous chat path: one request, one complete
// ChatChunk.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	turn, err := s.prepareTurn(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	answer, err := turn.client.Chat(r.Context(), turn.llmRequest())
	if err != nil {
		fallback := s.router.Fallback(turn.client)
		if fallback == turn.client {
			writeError(w, llm.Classify(turn.client.Kind(), err))
			return
		}
		logger.Get().Warn("主模型失败，切换备用模型",
			"primary", turn.client.ModelName(), "fallback", fallback.ModelName(), "error", err)
		answer, err = fallback.Chat(r.Context(), turn.llmRequest())
		if err != nil {
			writeError(w, llm.Classify(fallback.Kind(), err))
			return
		}
		answer = fmt.Sprintf("（备用模型 %s 回答）\n%s", fallback.ModelName(), answer)
	}

	if _, err := s.contexts.SaveMessage(r.Context(), req.SessionID, model.RoleAssistant, answer); err != nil {
		logger.Get().Warn("助手消息保存失败", "sessionId", req.SessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, ChatChunk{
		Content:   answer,
		Complete:  true,
		Citations: turn.retrieval.Citations,
	})
}

// handleChatStream is the SSE path: intermediate frames carry content
// deltas, a warning frame announces model fallover, and the terminal
// frame (complete:true, empty content) carries the citations.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req := chatRequest{
		Query:      r.URL.Query().Get("query"),
		SessionID:  r.URL.Query().Get("sessionId"),
		DocumentID: r.URL.Query().Get("documentId"),
		ModelType:  r.URL.Query().Get("model"),
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	turn, err := s.prepareTurn(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(chunk ChatChunk) error {
		data, err := sonic.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.streamTurn(r.Context(), turn, send); err != nil {
		logger.Get().Warn("流式回答中断", "sessionId", req.SessionID, "error", err)
	}
}

// streamTurn drives generation onto send. On a primary stream failure it
// fails over once with a warning frame; with no fallback available it
// emits a terminal error frame instead.
func (s *Server) streamTurn(ctx context.Context, turn *chatTurn, send func(ChatChunk) error) error {
	var answer strings.Builder

	streamErr := s.pipeStream(ctx, turn.client, turn, &answer, send)
	if streamErr != nil {
		fallback := s.router.Fallback(turn.client)
		if fallback == turn.client {
			return send(ChatChunk{
				Complete: true,
				Error:    llm.Classify(turn.client.Kind(), streamErr).Error(),
			})
		}

		warning := fmt.Sprintf("模型 %s 响应超时，已自动切换至 %s 继续回答...",
			turn.client.ModelName(), fallback.ModelName())
		logger.Get().Warn("主模型流式输出失败，切换备用模型",
			"primary", turn.client.ModelName(), "fallback", fallback.ModelName(), "error", streamErr)
		if err := send(ChatChunk{Warning: warning}); err != nil {
			return err
		}

		if err := s.pipeStream(ctx, fallback, turn, &answer, send); err != nil {
			return send(ChatChunk{
				Complete: true,
				Error:    llm.Classify(fallback.Kind(), err).Error(),
			})
		}
	}

	if answer.Len() > 0 {
		if _, err := s.contexts.SaveMessage(ctx, turn.request.SessionID, model.RoleAssistant, answer.String()); err != nil {
			logger.Get().Warn("助手消息保存失败", "sessionId", turn.request.SessionID, "error", err)
		}
	}

	return send(ChatChunk{Complete: true, Citations: turn.retrieval.Citations})
}

// pipeStream forwards one client's stream onto send, accumulating the
// deltas into answer.
func (s *Server) pipeStream(ctx context.Context, client llm.Client, turn *chatTurn, answer *strings.Builder, send func(ChatChunk) error) error {
	contentCh, errCh, err := client.StreamChat(ctx, turn.llmRequest())
	if err != nil {
		return err
	}

	for contentCh != nil || errCh != nil {
		select {
		case delta, ok := <-contentCh:
			if !ok {
				contentCh = nil
				continue
			}
			if delta == "" {
				continue
			}
			answer.WriteString(delta)
			if err := send(ChatChunk{Content: delta}); err != nil {
				return err
			}
		case streamErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if streamErr != nil {
				return streamErr
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
