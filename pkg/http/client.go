package http

import (
	"context"
	"net/http"
	"time"

	"github.com/astro-web3/request-authorizer/pkg/tracer"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetry         = 2
	DefaultRetryWaitTime = 100 * time.Millisecond
)

// Client is a traced resty client. Server errors (5xx) are retried.
type Client struct {
	rc *resty.Client
}

type ClientOption func(*resty.Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *resty.Client) {
		if d > 0 {
			c.SetTimeout(d)
		}
	}
}

func WithRetryCount(n int) ClientOption {
	return func(c *resty.Client) {
		if n >= 0 {
			c.SetRetryCount(n)
		}
	}
}

func WithRetryWaitTime(d time.Duration) ClientOption {
	return func(c *resty.Client) {
		c.SetRetryWaitTime(d).SetRetryMaxWaitTime(d * 4)
	}
}

func NewClient(opts ...ClientOption) *Client {
	rc := resty.New().
		SetTimeout(DefaultTimeout).
		SetRetryCount(DefaultRetry).
		SetRetryWaitTime(DefaultRetryWaitTime).
		SetRetryMaxWaitTime(DefaultRetryWaitTime * 4).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err == nil && resp != nil && resp.StatusCode() >= http.StatusInternalServerError
		})

	for _, opt := range opts {
		opt(rc)
	}

	return &Client{rc: rc}
}

type RequestOption func(*resty.Request)

func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

func WithAuthToken(token string) RequestOption {
	return func(r *resty.Request) {
		r.SetAuthToken(token)
	}
}

func (c *Client) Request(ctx context.Context, method, url string, opts ...RequestOption) (*resty.Response, error) {
	ctx, span := tracer.Start(ctx, "http.Request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
		),
	)
	defer span.End()

	request := c.rc.R().SetContext(ctx)
	for _, opt := range opts {
		opt(request)
	}
	injectTracingHeaders(ctx, request)

	resp, err := request.Execute(method, url)
	recordSpan(span, resp, err)
	return resp, err
}

func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*resty.Response, error) {
	return c.Request(ctx, http.MethodGet, url, opts...)
}

func recordSpan(span trace.Span, resp *resty.Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if resp == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode()),
		attribute.Int("http.attempts", resp.Request.Attempt),
	)
	if resp.IsError() {
		span.SetStatus(codes.Error, resp.Status())
		return
	}
	span.SetStatus(codes.Ok, "")
}
