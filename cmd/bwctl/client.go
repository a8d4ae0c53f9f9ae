package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bucketworks/boardwalk/model"
)

// apiClient is a thin HTTP client for the boardwalk API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(viper.GetString("server"), "/"),
		token:   viper.GetString("token"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries the server's error envelope. Refreshed is set on
// stale-version conflicts, where the server includes the current record.
type apiError struct {
	Status    int
	Envelope  *model.ErrorEnvelope
	Refreshed *model.ProjectAction
}

func (e *apiError) Error() string {
	if e.Envelope == nil {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	msg := fmt.Sprintf("%s: %s", e.Envelope.Code, e.Envelope.Message)
	for _, d := range e.Envelope.Details {
		msg += fmt.Sprintf("\n  %s: %s", d.Field, d.Message)
	}
	if e.Refreshed != nil {
		msg += fmt.Sprintf("\n  current version: %d (retry with --expected %d)",
			e.Refreshed.LastEventID, e.Refreshed.LastEventID)
	}
	return msg
}

// do sends one API request. A nil in skips the request body; a nil out
// discards the response body.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		var wire struct {
			Error  *model.ErrorEnvelope `json:"error"`
			Action *model.ProjectAction `json:"action"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&wire); err == nil {
			apiErr.Envelope = wire.Error
			apiErr.Refreshed = wire.Action
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
