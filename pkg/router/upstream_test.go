package router

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/llm"
)

type stubService struct {
	name   string
	err    error
	models []string
	asked  []string
}

func (s *stubService) Query(_ context.Context, prompt, model string) (llm.Response, error) {
	s.asked = append(s.asked, model)
	if s.err != nil {
		return llm.Response{}, s.err
	}
	return llm.Response{Answer: s.name + ": " + prompt, Model: model, Provider: s.name}, nil
}

func (s *stubService) Models(context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.models, nil
}

func TestUpstreamFallsThroughFailedTarget(t *testing.T) {
	ollama := &stubService{name: "ollama", err: errors.Mark(errors.New("503"), llm.ErrLLM)}
	openai := &stubService{name: "openai"}
	u := NewUpstreamWith(NewResolver(resolverConfig()), map[string]llm.Service{
		"ollama": ollama,
		"openai": openai,
	}, nil)

	resp, err := u.Query(context.Background(), "hi", "fast")
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, []string{"llama3"}, ollama.asked)
}

func TestUpstreamStopsOnTimeout(t *testing.T) {
	ollama := &stubService{name: "ollama", err: errors.Mark(errors.New("slow"), llm.ErrTimeout)}
	openai := &stubService{name: "openai"}
	u := NewUpstreamWith(NewResolver(resolverConfig()), map[string]llm.Service{
		"ollama": ollama,
		"openai": openai,
	}, nil)

	_, err := u.Query(context.Background(), "hi", "fast")
	require.ErrorIs(t, err, llm.ErrTimeout)
	assert.Empty(t, openai.asked)
}

func TestUpstreamNoProviders(t *testing.T) {
	u := NewUpstreamWith(NewResolver(&config.Config{}), nil, nil)
	_, err := u.Query(context.Background(), "hi", "llama3")
	require.ErrorIs(t, err, llm.ErrLLM)
}

func TestUpstreamModelsMergesProviders(t *testing.T) {
	u := NewUpstreamWith(NewResolver(resolverConfig()), map[string]llm.Service{
		"ollama": &stubService{models: []string{"llama3", "mistral"}},
		"openai": &stubService{models: []string{"gpt-4o", "llama3"}},
	}, nil)

	ids, err := u.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3", "mistral", "gpt-4o"}, ids)
}

func TestUpstreamModelsAllFail(t *testing.T) {
	u := NewUpstreamWith(NewResolver(resolverConfig()), map[string]llm.Service{
		"ollama": &stubService{err: errors.New("connection refused")},
	}, nil)

	_, err := u.Models(context.Background())
	require.Error(t, err)
}
