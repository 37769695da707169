package syncq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Deliverer sends one job to the remote system. A nil error is a successful
// delivery and removes the job from its queue; any error keeps it queued.
type Deliverer interface {
	Deliver(ctx context.Context, job Job) error
}

// DeliverFunc adapts a function to a Deliverer.
type DeliverFunc func(ctx context.Context, job Job) error

func (f DeliverFunc) Deliver(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Outcome classifies a delivery attempt.
type Outcome uint8

const (
	Failure Outcome = iota
	Success
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// OutcomeOf maps a delivery error to its Outcome.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Success
	}
	return Failure
}

// StatusError is returned by HTTPEndpoint for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("endpoint returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Permanent reports whether retrying the same payload can be expected to
// fail again. Drain does not act on it; it is surfaced for operators.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

const maxErrorBody = 512

// HTTPEndpoint posts a job's payload as a JSON body to URL.
type HTTPEndpoint struct {
	Client *http.Client
	URL    string
	Header http.Header
}

// NewHTTPClient returns a client suited to short JSON posts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

func (e *HTTPEndpoint) Deliver(ctx context.Context, job Job) error {
	return e.Post(ctx, job.Payload)
}

// Post sends payload and returns nil only for a 2xx response.
func (e *HTTPEndpoint) Post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	for k, vs := range e.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error posting to %s: %w", e.URL, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return &StatusError{StatusCode: res.StatusCode, Body: string(bytes.TrimSpace(body))}
}
