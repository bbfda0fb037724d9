package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrRemote = errors.New("scoring endpoint error")

type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Score(ctx context.Context, rows [][]float64) ([]float64, error) {
	payload, err := json.Marshal(map[string]any{"data": rows})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	var reply struct {
		Result *[]float64 `json:"result"`
		Error  *string    `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("malformed scoring reply: %w", err)
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrRemote, *reply.Error)
	}
	if reply.Result == nil {
		return nil, fmt.Errorf("malformed scoring reply: status %d with neither result nor error", resp.StatusCode)
	}
	if len(*reply.Result) != len(rows) {
		return nil, fmt.Errorf("scoring reply has %d scores for %d rows", len(*reply.Result), len(rows))
	}
	return *reply.Result, nil
}
