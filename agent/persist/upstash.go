package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

const (
	defaultKeyPrefix     = "vpa:record:"
	maxResponseSizeBytes = 2 << 20
	scanCount            = 100
)

// UpstashOption customizes UpstashBackend.
type UpstashOption func(*UpstashBackend)

func WithKeyPrefix(prefix string) UpstashOption {
	return func(b *UpstashBackend) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			b.keyPrefix = trimmed
		}
	}
}

// WithTTL expires records after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) UpstashOption {
	return func(b *UpstashBackend) {
		b.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) UpstashOption {
	return func(b *UpstashBackend) {
		if client != nil {
			b.httpClient = client
		}
	}
}

type UpstashConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// UpstashBackend stores records in Upstash Redis through its REST API.
type UpstashBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstashBackend(cfg UpstashConfig, opts ...UpstashOption) (*UpstashBackend, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b := &UpstashBackend{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return b, nil
}

func (b *UpstashBackend) Put(ctx context.Context, kind domain.Kind, id string, payload []byte) error {
	key, err := b.redisKey(kind, id)
	if err != nil {
		return err
	}
	cmd := []any{"SET", key, string(payload)}
	if b.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(b.ttl))
	}
	_, err = b.exec(ctx, cmd)
	return err
}

func (b *UpstashBackend) Get(ctx context.Context, kind domain.Kind, id string) ([]byte, error) {
	key, err := b.redisKey(kind, id)
	if err != nil {
		return nil, err
	}
	resp, err := b.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, fmt.Errorf("%w: %s", contractx.ErrNotFound, key)
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode record payload: %w", err)
	}
	return []byte(encoded), nil
}

func (b *UpstashBackend) Delete(ctx context.Context, kind domain.Kind, id string) error {
	key, err := b.redisKey(kind, id)
	if err != nil {
		return err
	}
	_, err = b.exec(ctx, []any{"DEL", key})
	return err
}

// List walks SCAN pages until the cursor comes back to zero.
func (b *UpstashBackend) List(ctx context.Context, kind domain.Kind) ([]string, error) {
	prefix := strings.TrimSpace(b.keyPrefix) + recordKey(kind, "")
	var ids []string
	cursor := "0"
	for {
		resp, err := b.exec(ctx, []any{"SCAN", cursor, "MATCH", prefix + "*", "COUNT", scanCount})
		if err != nil {
			return nil, err
		}
		var page []json.RawMessage
		if err := json.Unmarshal(resp.Result, &page); err != nil || len(page) != 2 {
			return nil, fmt.Errorf("decode scan page: unexpected result %s", string(resp.Result))
		}
		var keys []string
		if err := json.Unmarshal(page[0], &cursor); err != nil {
			return nil, fmt.Errorf("decode scan cursor: %w", err)
		}
		if err := json.Unmarshal(page[1], &keys); err != nil {
			return nil, fmt.Errorf("decode scan keys: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
		if cursor == "0" {
			return ids, nil
		}
	}
}

func (b *UpstashBackend) Close() error { return nil }

func (b *UpstashBackend) redisKey(kind domain.Kind, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: record id is empty", contractx.ErrValidation)
	}
	return strings.TrimSpace(b.keyPrefix) + recordKey(kind, id), nil
}

func (b *UpstashBackend) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
