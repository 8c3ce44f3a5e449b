// Package oracle talks to the hosted generative document model.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/feedlink/internal/config"
)

const maxResponseBytes = 1 << 20

var (
	ErrNotConfigured = errors.New("oracle_not_configured")
	ErrBadStatus     = errors.New("oracle_bad_status")
	ErrMalformed     = errors.New("oracle_malformed_response")
	ErrEmpty         = errors.New("oracle_empty_response")
)

// Generator is the capability the rest of the service depends on.
type Generator interface {
	GenerateContent(ctx context.Context, parts []Part) (string, error)
}

// Part is a single request part: either inline binary data or text.
type Part struct {
	MimeType string
	Data     []byte
	Text     string
}

func InlineData(mimeType string, data []byte) Part {
	return Part{MimeType: mimeType, Data: data}
}

func Text(s string) Part {
	return Part{Text: s}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wirePart struct {
	InlineData *inlineData `json:"inline_data,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type generateRequest struct {
	Contents []wireContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client calls the generateContent REST endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(cfg config.OracleConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateContent sends parts as one user turn and returns the concatenated candidate text.
// The call never outlives the configured timeout.
func (c *Client) GenerateContent(ctx context.Context, parts []Part) (string, error) {
	if c.baseURL == "" || c.model == "" {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := generateRequest{Contents: []wireContent{{Role: "user", Parts: make([]wirePart, 0, len(parts))}}}
	for _, p := range parts {
		if len(p.Data) > 0 {
			body.Contents[0].Parts = append(body.Contents[0].Parts, wirePart{InlineData: &inlineData{
				MimeType: p.MimeType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}})
			continue
		}
		body.Contents[0].Parts = append(body.Contents[0].Parts, wirePart{Text: p.Text})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	if c.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrBadStatus, decoded.Error.Message)
	}
	if len(decoded.Candidates) == 0 {
		return "", ErrEmpty
	}

	var sb strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
