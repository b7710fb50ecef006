package activities

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// OutcomeUnmatchedStatus is reported when the response status is not one of
// the expected codes.
const OutcomeUnmatchedStatus = "Unmatched status code"

// ErrResponseTooLarge is returned when a response body exceeds the
// configured MaxResponseBody.
var ErrResponseTooLarge = errors.New("response body exceeds limit")

// StatusError reports an HTTP response whose status was treated as a failure.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// SendHTTPRequest performs an HTTP call with the client registered under
// engine.ServiceHTTPClient. The response is committed as the "response"
// output ({status_code, headers, body}). When ExpectedStatusCodes is set the
// activity completes with the status code as outcome, or with "Unmatched
// status code"; otherwise 4xx/5xx responses fault the activity.
type SendHTTPRequest struct {
	engine.Node
	Method              binding.Input[string]
	URL                 binding.Input[string]
	Headers             binding.Input[map[string]string]
	Body                binding.Input[any]
	ExpectedStatusCodes []int
	Timeout             time.Duration
	Retry               *RetryPolicy
	MaxResponseBody     int64
}

// NewSendHTTPRequest creates a request activity for method and url.
func NewSendHTTPRequest(method, rawURL string) *SendHTTPRequest {
	return &SendHTTPRequest{
		Node:   engine.Node{Type: TypeSendHTTPRequest},
		Method: binding.Value(method),
		URL:    binding.Value(rawURL),
	}
}

func (a *SendHTTPRequest) Outcomes() []string {
	if len(a.ExpectedStatusCodes) == 0 {
		return []string{engine.OutcomeDone}
	}
	out := make([]string, 0, len(a.ExpectedStatusCodes)+1)
	for _, c := range a.ExpectedStatusCodes {
		out = append(out, strconv.Itoa(c))
	}
	return append(out, OutcomeUnmatchedStatus)
}

func (a *SendHTTPRequest) Validate(*engine.Definition) error {
	if v, ok := a.URL.LiteralValue(); ok {
		s, _ := v.(string)
		if err := checkURL(s); err != nil {
			return err.WithActivity(a.ID)
		}
	}
	return nil
}

type httpRequest struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	ctype   string
}

func (a *SendHTTPRequest) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	req, err := a.resolve(ctx)
	if err != nil {
		return engine.SignalNone, err
	}
	client, ok := engine.ServiceAs[*http.Client](ctx.Services(), engine.ServiceHTTPClient)
	if !ok {
		client = http.DefaultClient
	}
	breakers, _ := engine.ServiceAs[*CircuitBreakers](ctx.Services(), engine.ServiceBreakers)
	host := hostOf(req.url)

	var resp map[string]any
	var status int
	var waited time.Duration
	attempts, budget := a.Retry.attempts(), a.Retry.budget()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(a.Retry, attempt-1)
			if waited+delay > budget {
				ctx.Logger().Warn("http retry budget exhausted", "attempt", attempt, "waited", waited, "budget", budget)
				break
			}
			waited += delay
			ctx.Logger().Debug("retrying http request", "attempt", attempt+1, "delay", delay, "error", err)
			if werr := WaitForBackoff(ctx.Context(), delay); werr != nil {
				return engine.SignalNone, schema.NewError(schema.ErrCodeCancelled, "http retry interrupted").WithCause(werr)
			}
		}
		if breakers != nil {
			if err = breakers.Allow(host); err != nil {
				break
			}
		}
		resp, status, err = a.do(ctx.Context(), client, req)
		if err == nil && status >= 500 && len(a.ExpectedStatusCodes) == 0 {
			err = &StatusError{StatusCode: status, URL: req.url}
		}
		if breakers != nil {
			if err != nil {
				breakers.RecordFailure(host)
			} else {
				breakers.RecordSuccess(host)
			}
		}
		if err == nil || !IsRetryableError(err) {
			break
		}
	}
	if err == nil && status >= 400 && len(a.ExpectedStatusCodes) == 0 {
		err = &StatusError{StatusCode: status, URL: req.url}
	}
	if err != nil {
		var se *schema.Error
		if errors.As(err, &se) {
			return engine.SignalNone, se.WithActivity(a.ID)
		}
		return engine.SignalNone, schema.NewErrorf(schema.ErrCodeExecutionFault, "%s %s: %s", req.method, req.url, err.Error()).
			WithActivity(a.ID).WithCause(err)
	}

	if err := ctx.Commit("response", resp); err != nil {
		return engine.SignalNone, err
	}
	if len(a.ExpectedStatusCodes) == 0 {
		return ctx.Complete(), nil
	}
	for _, c := range a.ExpectedStatusCodes {
		if c == status {
			return ctx.Complete(strconv.Itoa(c)), nil
		}
	}
	return ctx.Complete(OutcomeUnmatchedStatus), nil
}

func (a *SendHTTPRequest) resolve(ctx *engine.ActivityContext) (*httpRequest, error) {
	method, err := engine.Resolve(ctx, a.Method)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	rawURL, err := engine.Resolve(ctx, a.URL)
	if err != nil {
		return nil, err
	}
	if verr := checkURL(rawURL); verr != nil {
		return nil, verr.WithActivity(a.ID)
	}
	headers, err := engine.Resolve(ctx, a.Headers)
	if err != nil {
		return nil, err
	}
	body, err := engine.Resolve(ctx, a.Body)
	if err != nil {
		return nil, err
	}

	req := &httpRequest{method: strings.ToUpper(method), url: rawURL, headers: headers}
	switch b := body.(type) {
	case nil:
	case string:
		req.body, req.ctype = []byte(b), "text/plain"
	default:
		data, err := xjson.Marshal(b)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeBinding, "request body: %s", err.Error()).WithActivity(a.ID)
		}
		req.body, req.ctype = data, "application/json"
	}
	return req, nil
}

func (a *SendHTTPRequest) do(ctx context.Context, client *http.Client, r *httpRequest) (map[string]any, int, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(reqCtx, r.method, r.url, body)
	if err != nil {
		return nil, 0, err
	}
	if r.ctype != "" {
		req.Header.Set("Content-Type", r.ctype)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	limit := a.MaxResponseBody
	if limit <= 0 {
		limit = defaultMaxResponseBody
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if int64(len(data)) > limit {
		return nil, resp.StatusCode, fmt.Errorf("%w of %d bytes", ErrResponseTooLarge, limit)
	}

	var parsed any
	ctype := resp.Header.Get("Content-Type")
	if len(data) > 0 {
		parsed = string(data)
		if strings.Contains(ctype, "application/json") {
			var v any
			if xjson.Unmarshal(data, &v) == nil {
				parsed = v
			}
		}
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return map[string]any{
		"status_code":  resp.StatusCode,
		"headers":      headers,
		"body":         parsed,
		"content_type": ctype,
		"duration_ms":  time.Since(start).Milliseconds(),
	}, resp.StatusCode, nil
}

func checkURL(raw string) *schema.Error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", raw)
	}
	return nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}
