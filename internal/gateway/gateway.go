// Package gateway sends one user prompt to the inference endpoint and
// normalizes the reply or the failure.
package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/comigor/zapup-go/internal/config"
	apperrors "github.com/comigor/zapup-go/internal/errors"
	"github.com/comigor/zapup-go/internal/llm"
	"github.com/comigor/zapup-go/internal/logger"
)

// NoResponseText is returned when a completion carries no content.
const NoResponseText = "No response received"

// InferenceClient performs one chat request and returns the reply text.
type InferenceClient interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error)
}

// Gateway picks the streaming or non-streaming client per model.
type Gateway struct {
	completion InferenceClient
	streaming  InferenceClient
	cfg        config.LLMConfig
}

// API is what New needs from the OpenAI client.
type API interface {
	llm.Client
	llm.StreamClient
}

// New creates a Gateway backed by api.
func New(api API, cfg config.LLMConfig) *Gateway {
	return NewWithClients(&completionClient{api: api}, &streamingClient{api: api}, cfg)
}

// NewWithClients wires explicit InferenceClient implementations.
func NewWithClients(completion, streaming InferenceClient, cfg config.LLMConfig) *Gateway {
	return &Gateway{completion: completion, streaming: streaming, cfg: cfg}
}

// Request builds the chat request for a prompt. Exported for inspection in tests
// and logs; Send uses the same shape.
func (g *Gateway) Request(modelID, prompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.cfg.Temperature,
		TopP:        g.cfg.TopP,
		MaxTokens:   g.cfg.MaxTokens,
		Stream:      g.cfg.IsStreamModel(modelID),
	}
}

// Send issues exactly one request for prompt. Failures are always one of
// *RemoteError, *NetworkError or *UnknownError.
func (g *Gateway) Send(ctx context.Context, modelID, prompt string) (string, error) {
	req := g.Request(modelID, prompt)

	client := g.completion
	if req.Stream {
		client = g.streaming
	}

	logger.L.Debug("sending inference request", "model", modelID, "stream", req.Stream, "prompt_len", len(prompt))
	reply, err := client.Complete(ctx, req)
	if err != nil {
		classified := Classify(err)
		logger.L.Error("inference request failed", "model", modelID, "error", err)
		return "", classified
	}
	return reply, nil
}

type completionClient struct {
	api llm.Client
}

func (c *completionClient) Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	req.Stream = false
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return NoResponseText, nil
	}
	return resp.Choices[0].Message.Content, nil
}

type streamingClient struct {
	api llm.StreamClient
}

func (c *streamingClient) Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if len(chunk.Choices) > 0 {
			sb.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	return sb.String(), nil
}

// Classify maps a client error onto the failure taxonomy.
func Classify(err error) error {
	var (
		apiErr     *openai.APIError
		reqErr     *openai.RequestError
		urlErr     *url.Error
		netErr     net.Error
		remoteErr  *apperrors.RemoteError
		networkErr *apperrors.NetworkError
		unknownErr *apperrors.UnknownError
	)
	switch {
	case errors.As(err, &remoteErr), errors.As(err, &networkErr), errors.As(err, &unknownErr):
		return err
	case errors.As(err, &apiErr):
		return apperrors.NewRemoteError(apiErr.HTTPStatusCode, apiErr.Message)
	case errors.As(err, &reqErr):
		return apperrors.NewRemoteError(reqErr.HTTPStatusCode, payloadMessage(reqErr.Body))
	case errors.As(err, &urlErr), errors.As(err, &netErr), errors.Is(err, io.ErrUnexpectedEOF):
		return apperrors.NewNetworkError(err)
	default:
		return apperrors.NewUnknownError(err)
	}
}

// payloadMessage extracts error.message from a raw error body, if any.
func payloadMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "error.message").String()
}
