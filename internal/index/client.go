package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrURLNotProvided is returned when the backend url is empty
	ErrURLNotProvided = errors.New("search index url not provided")

	// ErrIndexNameNotProvided is returned when the index name is empty
	ErrIndexNameNotProvided = errors.New("search index name not provided")
)

// Index is the batch-insert surface of the search backend
type Index interface {
	BatchInsert(ctx context.Context, docs []Document) error
}

// Config holds search index client configuration
type Config struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// Client talks to the search backend over HTTP
type Client struct {
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Index = (*Client)(nil)

// NewClient creates a new search index client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, ErrURLNotProvided
	}
	if config.Name == "" {
		return nil, ErrIndexNameNotProvided
	}

	if _, err := url.Parse(config.URL); err != nil {
		return nil, fmt.Errorf("invalid search index url: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(config.URL, "/"),
		name:       config.Name,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// BatchInsert adds or replaces docs in a single request. The backend either
// accepts the whole batch or the call fails.
func (c *Client) BatchInsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	body, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/indexes/%s/docs", c.baseURL, url.PathEscape(c.name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build batch insert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("batch insert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("batch insert rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.logger.Debug("Batch inserted into search index",
		slog.String("index", c.name),
		slog.Int("documents", len(docs)),
	)

	return nil
}
