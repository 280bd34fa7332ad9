package mgmt

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/Sternrassler/ckp-export/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for management API calls.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ckp_api_requests_total",
		Help: "Total management API requests by command and status",
	}, []string{"command", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ckp_api_request_duration_seconds",
		Help:    "Management API request duration in seconds by command",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"command"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ckp_api_errors_total",
		Help: "Total management API errors by class",
	}, []string{"class"})
)

// SessionHeader carries the session id of web API requests.
const SessionHeader = "X-chkp-sid"

// WebConfig holds the web API client configuration.
type WebConfig struct {
	// BaseURL of the management server, e.g. "https://mgmt.example.org".
	BaseURL string

	// InsecureSkipVerify disables TLS certificate checks (self-signed
	// management certificates).
	InsecureSkipVerify bool

	// Timeout bounds a single HTTP request. Zero means no client timeout;
	// the scheduler's task timeout still applies.
	Timeout time.Duration
}

// WebClient calls the management web API over HTTPS.
type WebClient struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

// NewWebClient creates a web API client.
func NewWebClient(cfg WebConfig) (*WebClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("base url must be http(s) (got %q)", cfg.BaseURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed servers
	}

	return &WebClient{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logging.NewLogger(logging.ComponentWeb),
	}, nil
}

// Login implements session.Authenticator.
func (c *WebClient) Login(ctx context.Context, creds session.Credentials) (*session.Session, error) {
	body, err := c.call(ctx, "login", "", map[string]any{
		"user":     creds.User,
		"password": creds.Password,
	})
	if err != nil {
		return nil, err
	}
	return parseLogin(body)
}

// Logout implements session.Authenticator.
func (c *WebClient) Logout(ctx context.Context, s *session.Session) error {
	_, err := c.call(ctx, "logout", s.ID, map[string]any{})
	return err
}

// Start implements Client. The request runs in its own goroutine.
func (c *WebClient) Start(ctx context.Context, s *session.Session, req job.Request) (job.Handle, error) {
	if req.Category == "" {
		return nil, fmt.Errorf("request has no category")
	}
	command := ShowCommand(req.Category)
	payload := Payload(req)

	return job.Go(ctx, func(ctx context.Context) ([]byte, error) {
		return c.call(ctx, command, s.ID, payload)
	}), nil
}

// call posts payload to a web API command and returns the response body.
func (c *WebClient) call(ctx context.Context, command, sid string, payload map[string]any) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(command).Observe(time.Since(startTime).Seconds())
	}()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", command, err)
	}

	endpoint := c.baseURL + "/web_api/v" + APIVersion + "/" + command
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if sid != "" {
		req.Header.Set(SessionHeader, sid)
	}

	c.logger.Debug().
		Str("command", command).
		Int("body_bytes", len(data)).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues(command, "network_error").Inc()
		return nil, &APIError{
			Command: command,
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			Command:    command,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	apiRequestsTotal.WithLabelValues(command, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		apiErrorsTotal.WithLabelValues(string(class)).Inc()

		apiErr := &APIError{
			Command:    command,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
		var detail struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &detail) == nil && detail.Message != "" {
			apiErr.Code = detail.Code
			apiErr.Message = detail.Message
		}

		c.logger.Warn().
			Str("command", command).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Str("code", apiErr.Code).
			Msg("API request error")
		return nil, apiErr
	}

	return body, nil
}

// parseLogin extracts the session id of a login response.
func parseLogin(body []byte) (*session.Session, error) {
	var login struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &login); err != nil {
		return nil, fmt.Errorf("decode login output: %w", err)
	}
	if login.SID == "" {
		return nil, ErrNoSessionID
	}
	return &session.Session{ID: login.SID, Started: time.Now()}, nil
}
