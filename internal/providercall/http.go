// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package providercall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/providererr"
	"github.com/dessentialist/rowforge/pkg/auth"
	"github.com/dessentialist/rowforge/pkg/contextutil"
	"github.com/dessentialist/rowforge/pkg/logging"
	"github.com/dessentialist/rowforge/pkg/middleware"
	"github.com/dessentialist/rowforge/pkg/pool"
)

// HTTPCaller is the production Caller: one pooled, instrumented HTTP
// client per provider endpoint, speaking each provider's native chat
// completion wire format.
type HTTPCaller struct {
	conns  *pool.ConnectionManager
	chain  middleware.Middleware
	keys   map[model.Provider]string
	logger logging.Logger

	// resolveEndpoint defaults to endpointFor; overridden in tests to
	// point at an httptest server instead of a real provider endpoint.
	resolveEndpoint func(model.Provider, string) (string, error)
}

// NewHTTPCaller builds a Caller bound to a single user's provider keys.
// chain is the RoundTripper middleware stack (logging/retry/circuit
// breaker/metrics) applied to every outbound request. conns resolves
// each request's client through the shared connection pool's health
// check, so an endpoint the pool judges unhealthy fails fast instead of
// hanging on a request that circuit breaker would eventually trip
// anyway.
func NewHTTPCaller(conns *pool.ConnectionManager, keys map[model.Provider]string, chain middleware.Middleware, logger logging.Logger) *HTTPCaller {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &HTTPCaller{conns: conns, chain: chain, keys: keys, logger: logger, resolveEndpoint: endpointFor}
}

// HTTPCallerFactory returns a CallerFactory-shaped function (see
// rowloop.CallerFactory) that binds a fresh HTTPCaller to each job's
// resolved provider keys, sharing one connection manager and
// middleware chain across every job in the process.
func HTTPCallerFactory(conns *pool.ConnectionManager, chain middleware.Middleware, logger logging.Logger) func(map[model.Provider]string) Caller {
	return func(keys map[model.Provider]string) Caller {
		return NewHTTPCaller(conns, keys, chain, logger)
	}
}

func endpointFor(p model.Provider, modelID string) (string, error) {
	switch p {
	case model.ProviderOpenAI:
		return "https://api.openai.com/v1/chat/completions", nil
	case model.ProviderPerplexity:
		return "https://api.perplexity.ai/chat/completions", nil
	case model.ProviderAnthropic:
		return "https://api.anthropic.com/v1/messages", nil
	case model.ProviderGemini:
		if modelID == "" {
			modelID = "gemini-1.5-flash"
		}
		return fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", modelID), nil
	default:
		return "", fmt.Errorf("unrecognized provider %q", p)
	}
}

// Call implements Caller by dispatching to the provider's native wire
// format, applying opts.TimeoutMs as a per-request deadline.
func (c *HTTPCaller) Call(ctx context.Context, provider model.Provider, modelID, systemText, userText string, opts Options) Result {
	key, ok := c.keys[provider]
	if !ok || key == "" {
		return Result{Err: providererr.New(providererr.CategoryAuth, "no API key configured for provider", string(provider), nil)}
	}

	endpoint, err := c.resolveEndpoint(provider, modelID)
	if err != nil {
		return Result{Err: providererr.New(providererr.CategoryMalformedResponse, "unsupported provider", err.Error(), err)}
	}

	timeout := contextutil.DefaultTimeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	var cancel context.CancelFunc
	ctx, cancel = contextutil.EnsureTimeout(ctx, timeout)
	defer cancel()

	body, signer, err := buildRequest(provider, modelID, systemText, userText, key, opts)
	if err != nil {
		return Result{Err: providererr.New(providererr.CategoryMalformedResponse, "failed to build request", err.Error(), err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Err: providererr.Wrap(err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if err := signer.Authenticate(ctx, req); err != nil {
		return Result{Err: providererr.New(providererr.CategoryAuth, "failed to sign request", err.Error(), err)}
	}

	client, err := c.conns.GetHealthyClient(ctx, endpoint)
	if err != nil {
		return Result{Err: providererr.New(providererr.CategoryNetwork, "endpoint unhealthy", err.Error(), err)}
	}
	transport := client.Transport
	if c.chain != nil {
		transport = c.chain(transport)
	}
	rt := *client
	rt.Transport = transport

	resp, err := rt.Do(req)
	if err != nil {
		ce := providererr.Wrap(err)
		c.logger.Warn("provider_call_transport_error", "provider", provider, "category", ce.Category)
		return Result{Err: ce}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: providererr.Wrap(err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Err: providererr.WrapHTTPStatus(resp.StatusCode, string(respBody))}
	}

	content, err := extractContent(provider, respBody)
	if err != nil {
		return Result{Err: providererr.New(providererr.CategoryMalformedResponse, "unrecognized response shape", err.Error(), err)}
	}
	return Result{Content: content}
}

// buildRequest renders provider-specific request bytes and the Signer
// that authenticates them (API-key header style differs by vendor).
func buildRequest(provider model.Provider, modelID, systemText, userText, key string, opts Options) ([]byte, auth.Signer, error) {
	switch provider {
	case model.ProviderOpenAI, model.ProviderPerplexity:
		messages := []chatMessage{}
		if systemText != "" {
			messages = append(messages, chatMessage{Role: "system", Content: systemText})
		}
		messages = append(messages, chatMessage{Role: "user", Content: userText})
		payload := openAIChatRequest{Model: modelID, Messages: messages, Temperature: opts.Temperature}
		b, err := json.Marshal(payload)
		return b, auth.NewTokenAuth(key), err

	case model.ProviderAnthropic:
		payload := anthropicRequest{
			Model:     modelID,
			System:    systemText,
			MaxTokens: opts.MaxTokens,
			Messages:  []chatMessage{{Role: "user", Content: userText}},
		}
		if payload.MaxTokens == 0 {
			payload.MaxTokens = 1024
		}
		b, err := json.Marshal(payload)
		return b, anthropicSigner{key: key}, err

	case model.ProviderGemini:
		combined := userText
		if systemText != "" {
			combined = systemText + "\n\n" + userText
		}
		payload := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: combined}}}}}
		b, err := json.Marshal(payload)
		return b, geminiSigner{key: key}, err

	default:
		return nil, nil, fmt.Errorf("unrecognized provider %q", provider)
	}
}

func extractContent(provider model.Provider, body []byte) (string, error) {
	switch provider {
	case model.ProviderOpenAI, model.ProviderPerplexity:
		var resp openAIChatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}
		return resp.Choices[0].Message.Content, nil

	case model.ProviderAnthropic:
		var resp anthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", err
		}
		if len(resp.Content) == 0 {
			return "", fmt.Errorf("no content blocks in response")
		}
		return resp.Content[0].Text, nil

	case model.ProviderGemini:
		var resp geminiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("no candidates in response")
		}
		return resp.Candidates[0].Content.Parts[0].Text, nil

	default:
		return "", fmt.Errorf("unrecognized provider %q", provider)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// anthropicSigner sets the x-api-key/anthropic-version headers
// Anthropic's Messages API requires instead of a bearer token.
type anthropicSigner struct{ key string }

func (s anthropicSigner) Authenticate(_ context.Context, req *http.Request) error {
	req.Header.Set("x-api-key", s.key)
	req.Header.Set("anthropic-version", "2023-06-01")
	return nil
}
func (anthropicSigner) Type() string { return "anthropic-api-key" }

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}
type geminiPart struct {
	Text string `json:"text"`
}
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}
type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// geminiSigner appends the API key as a query parameter, matching the
// Generative Language API's key-in-URL convention.
type geminiSigner struct{ key string }

func (s geminiSigner) Authenticate(_ context.Context, req *http.Request) error {
	q := req.URL.Query()
	q.Set("key", s.key)
	req.URL.RawQuery = q.Encode()
	return nil
}
func (geminiSigner) Type() string { return "gemini-api-key" }

var (
	_ auth.Signer = anthropicSigner{}
	_ auth.Signer = geminiSigner{}
)
