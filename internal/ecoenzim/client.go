// Package ecoenzim is the HTTP client of the external Herbit ecoenzim API.
package ecoenzim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"herbit/internal/metrics"
	"herbit/internal/model"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("ecoenzim api unavailable")

// APIError is a non-2xx answer of the API.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %d %s - %s", e.Endpoint, e.Status, http.StatusText(e.Status), strings.TrimSpace(e.Body))
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type tokenKey struct{}

// WithAccessToken attaches a bearer token to requests made with ctx.
func WithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// AccessToken returns the token attached by WithAccessToken.
func AccessToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	HTTPClient *http.Client
}

// Client talks to the ecoenzim API. Calls are throttled and guarded by a circuit
// breaker; 4xx answers do not count as breaker failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewClient(opts Options, log *zap.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := opts.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ecoenzim",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		cb:         cb,
		log:        log,
	}
}

// ListProjects returns the projects of a user.
func (c *Client) ListProjects(ctx context.Context, userID string) ([]model.Project, error) {
	path := "/projects"
	if userID != "" {
		path += "?userId=" + url.QueryEscape(userID)
	}
	raw, err := c.do(ctx, http.MethodGet, "projects.list", path, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[model.Project](raw, "projects")
}

// ActiveProject returns the first ongoing or not-started project of a user, or nil.
func (c *Client) ActiveProject(ctx context.Context, userID string) (*model.Project, error) {
	projects, err := c.ListProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		p := projects[i]
		if p.UserID != "" && p.UserID != userID {
			continue
		}
		if p.Active() {
			return &p, nil
		}
	}
	return nil, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*model.Project, error) {
	raw, err := c.do(ctx, http.MethodGet, "projects.get", "/projects/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Project](raw, "project")
}

func (c *Client) CreateProject(ctx context.Context, in model.NewProject) (*model.Project, error) {
	raw, err := c.do(ctx, http.MethodPost, "projects.create", "/projects", in)
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Project](raw, "project")
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "projects.delete", "/projects/"+url.PathEscape(id), nil)
	return err
}

// ListUploads returns every upload of a project.
func (c *Client) ListUploads(ctx context.Context, projectID string) ([]model.Upload, error) {
	raw, err := c.do(ctx, http.MethodGet, "uploads.list", "/uploads/project/"+url.PathEscape(projectID), nil)
	if err != nil {
		return nil, err
	}
	return decodeList[model.Upload](raw, "uploads")
}

// CreateUpload posts a check-in, milestone photo or waste entry. The API enforces
// the one-per-day and one-per-month uniqueness rules.
func (c *Client) CreateUpload(ctx context.Context, in model.Upload) (*model.Upload, error) {
	raw, err := c.do(ctx, http.MethodPost, "uploads.create", "/uploads", in)
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Upload](raw, "upload")
}

func (c *Client) VerifyUpload(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPut, "uploads.verify", "/uploads/"+url.PathEscape(id)+"/verify", nil)
	return err
}

// ClaimPoints asks the API to convert pre-points into points. The API re-validates
// eligibility.
func (c *Client) ClaimPoints(ctx context.Context, projectID string) (model.ClaimResult, error) {
	var res model.ClaimResult
	raw, err := c.do(ctx, http.MethodPost, "projects.claim", "/projects/"+url.PathEscape(projectID)+"/claim", nil)
	if err != nil {
		return res, err
	}
	if len(raw) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("decode claim result: %w", err)
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.send(ctx, method, endpoint, path, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", endpoint, ErrUnavailable)
	}
	if err != nil {
		return nil, err
	}
	raw, _ := out.([]byte)
	return raw, nil
}

func (c *Client) send(ctx context.Context, method, endpoint, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", endpoint, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", endpoint, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := AccessToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(endpoint, "error", time.Since(start))
		c.log.Warn("ecoenzim request failed",
			zap.String("endpoint", endpoint),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordAPIRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debug("ecoenzim request rejected",
			zap.String("endpoint", endpoint),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(data)}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return bytes.TrimSpace(data), nil
}

// decodeList accepts either a bare JSON array or an object wrapping it under key.
func decodeList[T any](raw []byte, key string) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return items, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	inner, ok := wrapped[key]
	if !ok || len(inner) == 0 || string(inner) == "null" {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal(inner, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return items, nil
}

// decodeOne accepts either a bare object or an object wrapping it under key.
func decodeOne[T any](raw []byte, key string) (*T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if inner, ok := wrapped[key]; ok && len(inner) > 0 && inner[0] == '{' {
		raw = inner
	}
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &item, nil
}
