// Package graphite submits datapoints to a Graphite HTTP ingestion endpoint such as
// Grafana Cloud's.
package graphite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mtraver/dhtlogger/measurement"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a whole submission when no HTTP client is given.
const DefaultTimeout = 30 * time.Second

// Read at most this much of an error response into a StatusError.
const maxErrorBody = 512

// Outcome classifies the result of a submission.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeUnauthorized
	OutcomeBadRequest
	OutcomeFailed
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeFailed:
		return "failed"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// StatusError is returned when the endpoint answers with anything but 200 OK.
type StatusError struct {
	StatusCode int
	Outcome    Outcome
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("graphite: %s (HTTP %d)", e.Outcome, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func classify(status int) Outcome {
	switch status {
	case http.StatusOK:
		return OutcomeOK
	case http.StatusUnauthorized, http.StatusForbidden:
		return OutcomeUnauthorized
	case http.StatusBadRequest:
		return OutcomeBadRequest
	default:
		return OutcomeFailed
	}
}

// Client posts datapoints to Endpoint authenticated with APIKey as a bearer token.
type Client struct {
	Endpoint string
	APIKey   string

	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

func NewClient(endpoint, apiKey string, logger logrus.FieldLogger) *Client {
	return &Client{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		Logger:     logger,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Submit sends all datapoints in a single POST. Every outcome is logged. The returned
// error is nil only for OutcomeOK; it is a *StatusError if the endpoint answered with
// another status, and the underlying error for encoding and transport failures.
func (c *Client) Submit(ctx context.Context, dps []measurement.Datapoint) (Outcome, error) {
	lg := c.logger()

	if dps == nil {
		dps = []measurement.Datapoint{}
	}
	body, err := json.Marshal(dps)
	if err != nil {
		lg.WithError(err).Error("Failed to encode datapoints")
		return OutcomeTransportError, fmt.Errorf("graphite: encode: %w", err)
	}

	lg.Debugf("Sending a POST request to %s with: %s", c.Endpoint, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		lg.WithError(err).Error("Failed to make request")
		return OutcomeTransportError, fmt.Errorf("graphite: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		lg.WithError(err).Error("Failed to send datapoints")
		return OutcomeTransportError, fmt.Errorf("graphite: %w", err)
	}
	defer resp.Body.Close()

	outcome := classify(resp.StatusCode)
	lg = lg.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"outcome": outcome.String(),
	})

	switch outcome {
	case OutcomeOK:
		io.Copy(io.Discard, resp.Body)
		lg.Infof("Submitted %d datapoints successfully", len(dps))
		return outcome, nil
	case OutcomeUnauthorized:
		lg.Error("Unauthorized! Check the API key")
	case OutcomeBadRequest:
		lg.Error("Bad request")
	default:
		lg.Error("Unexpected response submitting datapoints")
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return outcome, &StatusError{
		StatusCode: resp.StatusCode,
		Outcome:    outcome,
		Body:       strings.TrimSpace(string(b)),
	}
}
