// Package llmgate talks to the external LLM gateway. The gateway owns
// provider adapters; this side sends one generation request and consumes a
// line-delimited JSON stream back.
package llmgate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aura/internal/logging"
)

// ErrStopped reports that the caller's stop check interrupted the stream.
var ErrStopped = errors.New("generation stopped by request")

const (
	generatePath   = "/invoke"
	requestTimeout = 5 * time.Minute
	apiKeyHeader   = "X-Provider-API-Key"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the gateway generation payload.
type Request struct {
	ProviderName string           `json:"provider_name"`
	ModelName    string           `json:"model_name"`
	Messages     []Message        `json:"messages"`
	Temperature  float64          `json:"temperature"`
	IsJSON       bool             `json:"is_json"`
	Tools        []map[string]any `json:"tools,omitempty"`
}

// envelope is one line of the gateway's stream.
type envelope struct {
	Type          string `json:"type"`
	Content       string `json:"content"`
	Error         string `json:"error"`
	FinalResponse *struct {
		Reply string `json:"reply"`
	} `json:"final_response"`
}

// Streamer issues generation requests against one gateway base URL.
type Streamer struct {
	baseURL string
	client  *http.Client
	log     logging.Logger
}

func NewStreamer(baseURL string, log logging.Logger) *Streamer {
	return &Streamer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
		log:     logging.OrNop(log),
	}
}

// Stream sends req and consumes the response line by line. onChunk (optional)
// receives each streamed token batch. onEnvelope (optional) receives every
// other typed envelope verbatim, so gateways can push status frames and
// tool-progress messages straight through to the client. stop (optional) is
// polled between lines; when it returns true the stream is abandoned and
// ErrStopped comes back with whatever accumulated so far.
//
// The returned string is the gateway's final reply when one is sent, else
// the concatenation of the chunks.
func (s *Streamer) Stream(ctx context.Context, apiKey string, req Request, onChunk func(string), onEnvelope func(json.RawMessage), stop func() bool) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode gateway request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call llm gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if stop != nil && stop() {
			s.log.Info("stream interrupted by stop request (model %s)", req.ModelName)
			return accumulated.String(), ErrStopped
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			s.log.Warn("skipping malformed gateway line: %v", err)
			continue
		}
		switch {
		case env.FinalResponse != nil:
			return env.FinalResponse.Reply, nil
		case env.Error != "":
			return "", fmt.Errorf("llm gateway error: %s", env.Error)
		case env.Type == "chunk":
			accumulated.WriteString(env.Content)
			if onChunk != nil {
				onChunk(env.Content)
			}
		case env.Type != "":
			if onEnvelope != nil {
				onEnvelope(json.RawMessage(line))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read gateway stream: %w", err)
	}
	return accumulated.String(), nil
}

// Complete is Stream without chunk delivery, for single-shot generations.
func (s *Streamer) Complete(ctx context.Context, apiKey string, req Request) (string, error) {
	return s.Stream(ctx, apiKey, req, nil, nil, nil)
}
