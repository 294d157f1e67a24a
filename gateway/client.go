package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	log "github.com/sachindeshpande/faers-sub002/chassis/logging"

	"github.com/sachindeshpande/faers-sub002/chassis/config"
)

const (
	maxBodyBytes    = 64 * 1024
	maxMessageBytes = 256
)

// SubmissionMeta - metadata sent when creating a remote submission.
type SubmissionMeta struct {
	CaseID       string `json:"caseId"`
	DocumentType string `json:"documentType"`
}

// AckError - one rejection reason inside a negative acknowledgment.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Acknowledgment - terminal remote response. ACK1/ACK2/ACK3 are
// positive, NACK is a rejection carrying reasons.
type Acknowledgment struct {
	Type      string     `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	CoreID    string     `json:"coreId,omitempty"`
	Errors    []AckError `json:"errors,omitempty"`
}

// Rejected ...
func (a *Acknowledgment) Rejected() bool {
	return a.Type == "NACK"
}

// Client - stateless HTTP client over the remote submission protocol.
// It classifies failures into categories and never retries.
type Client struct {
	http *http.Client
	envs map[string]config.Environment
}

// NewClient ...
func NewClient(envs []config.Environment) *Client {
	byName := make(map[string]config.Environment, len(envs))
	for _, env := range envs {
		byName[env.Name] = env
	}
	return &Client{
		http: &http.Client{Timeout: requestTimeout},
		envs: byName,
	}
}

// CreateSubmission ...
func (c *Client) CreateSubmission(ctx context.Context, environment, token string, meta SubmissionMeta) (string, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", &APIError{Category: CategoryUnknown, Message: err.Error()}
	}
	var created struct {
		SubmissionID string `json:"submissionId"`
	}
	err = c.do(ctx, environment, token, http.MethodPost, "/submissions", "application/json", bytes.NewReader(payload), &created)
	if err != nil {
		return "", err
	}
	if created.SubmissionID == "" {
		return "", &APIError{Category: CategoryUnknown, Message: "create response carries no submissionId"}
	}
	return created.SubmissionID, nil
}

// UploadDocument - multipart upload of the generated document.
func (c *Client) UploadDocument(ctx context.Context, environment, token, submissionID string, document []byte, filename string) error {
	var buff bytes.Buffer
	writer := multipart.NewWriter(&buff)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return &APIError{Category: CategoryUnknown, Message: err.Error()}
	}
	if _, err := part.Write(document); err != nil {
		return &APIError{Category: CategoryUnknown, Message: err.Error()}
	}
	if err := writer.WriteField("fileType", "DOCUMENT_XML"); err != nil {
		return &APIError{Category: CategoryUnknown, Message: err.Error()}
	}
	if err := writer.Close(); err != nil {
		return &APIError{Category: CategoryUnknown, Message: err.Error()}
	}
	path := fmt.Sprintf("/submissions/%s/files", submissionID)
	return c.do(ctx, environment, token, http.MethodPost, path, writer.FormDataContentType(), &buff, nil)
}

// Finalize ...
func (c *Client) Finalize(ctx context.Context, environment, token, submissionID string) (string, error) {
	var finalized struct {
		CoreID string `json:"coreId"`
	}
	path := fmt.Sprintf("/submissions/%s/finalize", submissionID)
	err := c.do(ctx, environment, token, http.MethodPost, path, "application/json", nil, &finalized)
	if err != nil {
		return "", err
	}
	if finalized.CoreID == "" {
		return "", &APIError{Category: CategoryUnknown, Message: "finalize response carries no coreId"}
	}
	return finalized.CoreID, nil
}

// GetStatus - nil acknowledgment means not yet available, not an error.
func (c *Client) GetStatus(ctx context.Context, environment, token, submissionID string) (*Acknowledgment, error) {
	path := fmt.Sprintf("/submissions/%s/acknowledgment", submissionID)
	return c.getAcknowledgment(ctx, environment, token, path)
}

// AcknowledgmentByCoreID - same lookup keyed by the finalized core identifier.
func (c *Client) AcknowledgmentByCoreID(ctx context.Context, environment, token, coreID string) (*Acknowledgment, error) {
	path := fmt.Sprintf("/acknowledgments/%s", coreID)
	return c.getAcknowledgment(ctx, environment, token, path)
}

func (c *Client) getAcknowledgment(ctx context.Context, environment, token, path string) (*Acknowledgment, error) {
	var ack Acknowledgment
	err := c.do(ctx, environment, token, http.MethodGet, path, "", nil, &ack)
	if err != nil {
		if status := HTTPStatusOf(err); status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &ack, nil
}

func (c *Client) do(ctx context.Context, environment, token, method, path, contentType string, body io.Reader, out interface{}) error {
	env, ok := c.envs[environment]
	if !ok {
		return &APIError{Category: CategoryUnknown, Message: fmt.Sprintf("unknown environment %q", environment)}
	}
	req, err := http.NewRequestWithContext(ctx, method, env.BaseURL+path, body)
	if err != nil {
		return &APIError{Category: CategoryUnknown, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Category: CategoryNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Category:   Classify(resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Message:    parseMessage(raw, "request rejected"),
		}
		log.WithFields(log.Fields{
			"event":       "gateway_request_failed",
			"environment": environment,
			"method":      method,
			"path":        path,
			"status":      resp.StatusCode,
			"category":    string(apiErr.Category),
		}).Debug(apiErr.Message)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{
			Category:   CategoryUnknown,
			HTTPStatus: resp.StatusCode,
			Message:    parseMessage(raw, "malformed response body"),
		}
	}
	return nil
}

// parseMessage best-effort extracts a human-readable message from a
// response body, falling back to the truncated raw body.
func parseMessage(body []byte, fallback string) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return fallback
	}
	if len(raw) > maxMessageBytes {
		raw = raw[:maxMessageBytes]
	}
	return fmt.Sprintf("%s: %s", fallback, raw)
}
