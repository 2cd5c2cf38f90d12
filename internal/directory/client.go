// Package directory wraps the external clinic scheduling system: patient
// verification, availability queries, and booking submission. Transport and
// HTTP failures are normalized into a small error taxonomy so callers can
// drive retry and escalation off the error class alone.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

var tracer = otel.Tracer("saudeflow.internal.directory")

const defaultTimeout = 10 * time.Second

// PatientRecord is the directory's view of a verified patient. It is held in
// session context for the duration of a dialogue and never persisted.
type PatientRecord struct {
	CPF   string `json:"cpf"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// BookingRequest submits a confirmed appointment to the directory.
type BookingRequest struct {
	CPF       string `json:"cpf"`
	Day       string `json:"day"`
	Time      string `json:"time"`
	Specialty string `json:"specialty"`
}

// BookingConfirmation is the directory's acknowledgment of a booking.
type BookingConfirmation struct {
	ID   string `json:"id"`
	Day  string `json:"day"`
	Time string `json:"time"`
}

// Client talks to the scheduling directory over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient builds a directory client with a bounded request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Verify checks an identity number against the directory. Returns
// ErrNotFound when the patient is unknown and ErrInvalidInput when the
// upstream rejects the number's format.
func (c *Client) Verify(ctx context.Context, cpf string) (*PatientRecord, error) {
	ctx, span := tracer.Start(ctx, "directory.verify")
	defer span.End()

	body, err := c.get(ctx, "verify", "/patients/"+url.PathEscape(cpf), nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var record PatientRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, &PermanentError{Op: "verify", Err: fmt.Errorf("decode response: %w", err)}
	}
	span.SetAttributes(attribute.Bool("directory.found", true))
	return &record, nil
}

// AvailableDays lists bookable days for a specialty, in the order the
// directory returns them.
func (c *Client) AvailableDays(ctx context.Context, specialty string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "directory.available_days")
	defer span.End()

	query := url.Values{}
	if specialty != "" {
		query.Set("specialty", specialty)
	}
	body, err := c.get(ctx, "available_days", "/availability/days", query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var payload struct {
		Days []string `json:"days"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &PermanentError{Op: "available_days", Err: fmt.Errorf("decode response: %w", err)}
	}
	span.SetAttributes(attribute.Int("directory.days", len(payload.Days)))
	return payload.Days, nil
}

// AvailableTimes lists bookable times for one day, in directory order.
func (c *Client) AvailableTimes(ctx context.Context, day, specialty string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "directory.available_times")
	defer span.End()

	query := url.Values{}
	query.Set("day", day)
	if specialty != "" {
		query.Set("specialty", specialty)
	}
	body, err := c.get(ctx, "available_times", "/availability/times", query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var payload struct {
		Times []string `json:"times"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &PermanentError{Op: "available_times", Err: fmt.Errorf("decode response: %w", err)}
	}
	span.SetAttributes(attribute.Int("directory.times", len(payload.Times)))
	return payload.Times, nil
}

// Book submits a booking. Callers must invoke it at most once per confirmed
// dialogue; the client itself never retries this call.
func (c *Client) Book(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	ctx, span := tracer.Start(ctx, "directory.book")
	defer span.End()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &PermanentError{Op: "book", Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bookings", bytes.NewReader(payload))
	if err != nil {
		return nil, &PermanentError{Op: "book", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, &TransientError{Op: "book", Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return nil, &TransientError{Op: "book", Err: readErr}
	}
	if err := classifyStatus("book", resp.StatusCode, body); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var confirmation BookingConfirmation
	if err := json.Unmarshal(body, &confirmation); err != nil {
		return nil, &PermanentError{Op: "book", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &confirmation, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &PermanentError{Op: op, Err: err}
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return nil, &TransientError{Op: op, Err: readErr}
	}
	if err := classifyStatus(op, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyStatus maps an HTTP status onto the error taxonomy. 5xx responses
// are transient; 404 means unknown patient; 400/422 mean the upstream
// rejected the input; other non-2xx are permanent.
func classifyStatus(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("upstream returned %d", status)}
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrInvalidInput
	default:
		return &PermanentError{
			Op:     op,
			Status: status,
			Err:    errors.New(truncate(string(body), 200)),
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
