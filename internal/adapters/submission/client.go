// Package submission provides an HTTP implementation of the job board
// submission client.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// Config captures the outbound submission endpoint behaviour we need.
type Config struct {
	// Endpoint overrides per-posting apply URLs when set. Useful for boards
	// fronted by a single intake gateway.
	Endpoint string

	// AuthToken is sent as a bearer token when set.
	AuthToken string

	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// Client delivers applications to job boards over HTTP. Each request carries
// the caller's idempotency key so boards can deduplicate re-deliveries; the
// client itself performs exactly one attempt per call.
type Client struct {
	endpoint  string
	authToken string
	client    *http.Client
	logger    *slog.Logger
}

var _ core.SubmissionClient = (*Client)(nil)

// NewClient builds an HTTP submission client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:  strings.TrimSpace(cfg.Endpoint),
		authToken: strings.TrimSpace(cfg.AuthToken),
		client:    hc,
		logger:    logger.With("component", "submission_client"),
	}
}

// submissionPayload is the wire shape posted to the board.
type submissionPayload struct {
	JobID             string                   `json:"job_id"`
	ExternalID        string                   `json:"external_id,omitempty"`
	Company           string                   `json:"company"`
	Title             string                   `json:"title"`
	ResumeURL         string                   `json:"resume_url"`
	AnsweredQuestions []model.AnsweredQuestion `json:"answered_questions,omitempty"`
}

// Submit delivers one application and returns the board's receipt.
func (c *Client) Submit(ctx context.Context, req core.SubmissionRequest) (*core.SubmissionReceipt, error) {
	if req.Job == nil {
		return nil, errors.New("job posting is required")
	}
	if req.IdempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}

	target := c.endpoint
	if target == "" {
		target = req.Job.ApplyURL
	}
	if target == "" {
		return nil, fmt.Errorf("no submission endpoint for job %s", req.Job.ID)
	}

	body, err := json.Marshal(submissionPayload{
		JobID:             req.Job.ID,
		ExternalID:        req.Job.ExternalID,
		Company:           req.Job.Company,
		Title:             req.Job.Title,
		ResumeURL:         req.ResumeURL,
		AnsweredQuestions: req.AnsweredQuestions,
	})
	if err != nil {
		return nil, fmt.Errorf("encode submission payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create submission request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submission request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(resp)
	}

	return decodeReceipt(resp)
}

func decodeReceipt(resp *http.Response) (*core.SubmissionReceipt, error) {
	defer resp.Body.Close() //nolint:errcheck // best effort close after decode

	var receipt core.SubmissionReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode submission receipt: %w", err)
	}
	if receipt.Receipt == "" {
		return nil, errors.New("board returned an empty receipt")
	}
	return &receipt, nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeErr := resp.Body.Close()
	if readErr != nil {
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("read submission error response: %w", readErr),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("read submission error response: %w", readErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close response body: %w", closeErr)
	}

	return fmt.Errorf("submission endpoint %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
}
