package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/ollama/ollama/api"
)

const errLoggerKey = "error"

// DefaultOllamaHost is the address of a local Ollama server on its default port.
const DefaultOllamaHost = "http://localhost:11434"

// Ollama provides an implementation of the LLM interface for interacting with a local Ollama server.
// It streams chat completions and lists the models installed on the server.
type Ollama struct {
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance for the server at host. An empty host means
// DefaultOllamaHost. It returns an error if host is not a valid URL.
func NewOllama(host, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Chat implements the LLM interface by streaming the reply of model to the conversation in
// messages. The returned iterator yields the reply chunk by chunk as the server produces them, and
// a final error if the stream fails. Stopping the iteration cancels the request.
func (o Ollama) Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]api.Message, len(messages))
		for i, msg := range messages {
			msgs[i] = api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}
		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, api.Message{
				Role:    string(models.RoleSystem),
				Content: o.systemPrompt,
			})
		}

		t := true
		req := api.ChatRequest{
			Model:    model,
			Messages: msgs,
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		})
		if stopped {
			o.logger.Debug("Reply stopped by the caller", slog.String("model", model))
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				o.logger.Debug("Reply cancelled", slog.String("model", model))
				return
			}
			o.logger.Warn("Chat request failed",
				slog.String("model", model),
				slog.String(errLoggerKey, err.Error()))
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}

// Models lists the names of the models installed on the server.
func (o Ollama) Models(ctx context.Context) ([]string, error) {
	res, err := o.client.List(ctx)
	if err != nil {
		o.logger.Debug("Listing models failed", slog.String(errLoggerKey, err.Error()))
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	names := make([]string, len(res.Models))
	for i, m := range res.Models {
		names[i] = m.Name
	}
	return names, nil
}
