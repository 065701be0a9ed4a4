// Package client talks to the inference server over HTTP and websocket.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"har-lifecycle/internal/api"
	"har-lifecycle/internal/ml"
)

// APIError is returned for any non-2xx response. It unwraps to the error
// kind the server reported, so errors.Is(err, ml.ErrValidation) works on the
// client side.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("har api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return kindByName[e.Kind]
}

var kindByName = map[string]error{
	ml.ErrValidation.Error():      ml.ErrValidation,
	ml.ErrSchemaMismatch.Error():  ml.ErrSchemaMismatch,
	ml.ErrNotFound.Error():        ml.ErrNotFound,
	ml.ErrCorruptArtifact.Error(): ml.ErrCorruptArtifact,
	ml.ErrPrediction.Error():      ml.ErrPrediction,
}

type Client struct {
	base string
	rest *resty.Client
}

// New returns a client for the server at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(baseURL, "/"), rest: r}
}

func (c *Client) Predict(ctx context.Context, features []float64) (*api.PredictResponse, error) {
	out := &api.PredictResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(api.PredictRequest{Features: features}).
		SetResult(out).
		SetError(&api.ErrorResponse{}).
		Post(c.base + api.PathPredict)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Info(ctx context.Context) (*ml.Info, error) {
	out := &ml.Info{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&api.ErrorResponse{}).
		Get(c.base + api.PathInfo)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	out := &api.HealthResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&api.ErrorResponse{}).
		Get(c.base + api.PathHealth)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// Reload asks the server to re-resolve the latest artifact and returns the
// info it now serves.
func (c *Client) Reload(ctx context.Context) (*ml.Info, error) {
	out := &ml.Info{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&api.ErrorResponse{}).
		Post(c.base + api.PathReload)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), RequestID: resp.Header().Get(api.HeaderRequestID)}
	if body, ok := resp.Error().(*api.ErrorResponse); ok && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	} else {
		apiErr.Message = strings.TrimSpace(resp.String())
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
	}
	return apiErr
}
