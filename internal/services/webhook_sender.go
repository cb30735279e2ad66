package services

import (
	"context"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

type WebhookRequest struct {
	URL     string
	Body    []byte
	Headers map[string]string
	Timeout time.Duration
}

type WebhookResponse struct {
	StatusCode int
	Body       []byte
}

// WebhookSender performs one outbound webhook call. A transport failure is
// returned as an error; any HTTP status is a response.
type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) (*WebhookResponse, error)
}

// FastHTTPSender sends webhooks over a shared fasthttp client.
type FastHTTPSender struct {
	client *fasthttp.Client
}

func NewFastHTTPSender() *FastHTTPSender {
	return &FastHTTPSender{
		client: &fasthttp.Client{
			Name:                "settle-webhooks/1.0",
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 30 * time.Second,
			MaxConnWaitTimeout:  5 * time.Second,
		},
	}
}

const maxResponseLog = 4096

func (s *FastHTTPSender) Send(ctx context.Context, in WebhookRequest) (*WebhookResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(http.MethodPost)
	req.Header.SetContentType("application/json")
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}
	req.SetRequestURI(in.URL)
	req.SetBody(in.Body)

	timeout := in.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, err
	}

	body := resp.Body()
	if len(body) > maxResponseLog {
		body = body[:maxResponseLog]
	}
	return &WebhookResponse{
		StatusCode: resp.StatusCode(),
		Body:       append([]byte(nil), body...),
	}, nil
}
