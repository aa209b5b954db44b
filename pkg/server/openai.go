package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	openai "github.com/sashabaranov/go-openai"
)

// handleChatCompletions answers OpenAI-style chat requests through the router,
// using the last user message as the query.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stream {
		writeJSONError(w, http.StatusBadRequest, "streaming is not supported")
		return
	}

	query := lastUserMessage(req.Messages)
	if query == "" {
		writeJSONError(w, http.StatusBadRequest, "no user message")
		return
	}

	ev := s.router.Handle(r.Context(), query, req.Model)
	w.Header().Set("X-Greencache-Outcome", string(ev.Outcome))
	w.Header().Set("X-Greencache-Energy-Wh", strconv.FormatFloat(ev.Energy.EnergyWh, 'f', -1, 64))
	w.Header().Set("X-Greencache-Carbon-G", strconv.FormatFloat(ev.Energy.CarbonG, 'f', -1, 64))
	if ev.Failed() {
		writeJSONError(w, statusFor(ev), ev.Error)
		return
	}

	writeJSON(w, http.StatusOK, openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + ev.ID,
		Object:  "chat.completion",
		Created: ev.Timestamp.Unix(),
		Model:   ev.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: ev.Answer,
			},
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

func lastUserMessage(msgs []openai.ChatCompletionMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != openai.ChatMessageRoleUser {
			continue
		}
		if msgs[i].Content != "" {
			return msgs[i].Content
		}
		for _, part := range msgs[i].MultiContent {
			if part.Type == openai.ChatMessagePartTypeText && part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}
