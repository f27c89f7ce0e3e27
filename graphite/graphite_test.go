package graphite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mtraver/dhtlogger/measurement"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var testDatapoints = []measurement.Datapoint{
	{Name: "attic.temperature", Interval: 900, Value: 18.5, Time: 1521936000},
	{Name: "attic.humidity", Interval: 900, Value: 55, Time: 1521936000},
}

type capturedRequest struct {
	Method        string
	ContentType   string
	Authorization string
	Body          string
}

func newServer(t *testing.T, status int, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read body: %v", err)
		}
		*got = capturedRequest{
			Method:        r.Method,
			ContentType:   r.Header.Get("Content-Type"),
			Authorization: r.Header.Get("Authorization"),
			Body:          string(b),
		}
		w.WriteHeader(status)
		io.WriteString(w, http.StatusText(status))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmit(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		want      Outcome
		wantLevel logrus.Level
	}{
		{"ok", http.StatusOK, OutcomeOK, logrus.InfoLevel},
		{"unauthorized", http.StatusUnauthorized, OutcomeUnauthorized, logrus.ErrorLevel},
		{"forbidden", http.StatusForbidden, OutcomeUnauthorized, logrus.ErrorLevel},
		{"bad_request", http.StatusBadRequest, OutcomeBadRequest, logrus.ErrorLevel},
		{"server_error", http.StatusInternalServerError, OutcomeFailed, logrus.ErrorLevel},
		{"accepted", http.StatusAccepted, OutcomeFailed, logrus.ErrorLevel},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var req capturedRequest
			srv := newServer(t, c.status, &req)
			logger, hook := test.NewNullLogger()

			client := NewClient(srv.URL, "s3cret", logger)
			got, err := client.Submit(context.Background(), testDatapoints)

			if got != c.want {
				t.Errorf("got outcome %v, want %v", got, c.want)
			}

			if c.want == OutcomeOK {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
			} else {
				var serr *StatusError
				if !errors.As(err, &serr) {
					t.Fatalf("got %v, want *StatusError", err)
				}
				if serr.StatusCode != c.status || serr.Outcome != c.want {
					t.Errorf("got %+v", serr)
				}
				if serr.Body != http.StatusText(c.status) {
					t.Errorf("got body %q, want %q", serr.Body, http.StatusText(c.status))
				}
			}

			entry := hook.LastEntry()
			if entry == nil {
				t.Fatalf("Nothing logged")
			}
			if entry.Level != c.wantLevel {
				t.Errorf("got log level %v, want %v", entry.Level, c.wantLevel)
			}
			if entry.Data["outcome"] != c.want.String() {
				t.Errorf("got logged outcome %v, want %v", entry.Data["outcome"], c.want)
			}

			if req.Method != http.MethodPost {
				t.Errorf("got method %q, want POST", req.Method)
			}
			if req.ContentType != "application/json" {
				t.Errorf("got Content-Type %q", req.ContentType)
			}
			if req.Authorization != "Bearer s3cret" {
				t.Errorf("got Authorization %q", req.Authorization)
			}

			var body []measurement.Datapoint
			if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
				t.Fatalf("Body is not JSON: %v", err)
			}
			if diff := cmp.Diff(body, testDatapoints); diff != "" {
				t.Errorf("Unexpected body (-got +want):\n%s", diff)
			}
		})
	}
}

func TestSubmitEmpty(t *testing.T) {
	var req capturedRequest
	srv := newServer(t, http.StatusOK, &req)

	client := &Client{Endpoint: srv.URL, APIKey: "k"}
	if _, err := client.Submit(context.Background(), nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if req.Body != "[]" {
		t.Errorf("got body %q, want %q", req.Body, "[]")
	}
}

func TestSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger, hook := test.NewNullLogger()
	client := NewClient(url, "k", logger)

	got, err := client.Submit(context.Background(), testDatapoints)
	if got != OutcomeTransportError {
		t.Errorf("got outcome %v, want %v", got, OutcomeTransportError)
	}
	if err == nil {
		t.Errorf("Expected error, got nil")
	}

	var serr *StatusError
	if errors.As(err, &serr) {
		t.Errorf("Transport failure must not be a *StatusError")
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.ErrorLevel {
		t.Errorf("Expected an error to be logged")
	}
}

func TestSubmitCanceled(t *testing.T) {
	var req capturedRequest
	srv := newServer(t, http.StatusOK, &req)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &Client{Endpoint: srv.URL, APIKey: "k"}
	got, err := client.Submit(ctx, testDatapoints)
	if got != OutcomeTransportError || !errors.Is(err, context.Canceled) {
		t.Errorf("got (%v, %v), want (%v, context.Canceled)", got, err, OutcomeTransportError)
	}
}
