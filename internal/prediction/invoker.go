// Package prediction calls the conversational-prediction backend, buffered
// or streaming.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flowgate/internal/metrics"
	"flowgate/internal/shared"
	"flowgate/internal/sse"

	"go.uber.org/zap"
)

// maxErrorBody bounds how much of a failed response is read
const maxErrorBody = 64 << 10

type SessionToucher interface {
	TouchSession(ctx context.Context, userID uint64, sessionID string, at time.Time) error
}

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	MaxLineBytes int
	PreviewChars int
}

type Invoker struct {
	opts     Options
	client   *http.Client
	sessions SessionToucher
	log      *zap.SugaredLogger
}

func NewInvoker(opts Options, sessions SessionToucher, log *zap.SugaredLogger) (*Invoker, error) {
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = shared.DefaultBackendTimeout
	}
	if opts.PreviewChars <= 0 {
		opts.PreviewChars = shared.DefaultPreviewChars
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: shared.DefaultDialTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   shared.DefaultDialTimeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableKeepAlives:     false,
	}
	// No client timeout: it would also cut long-running streams.
	client := &http.Client{Transport: tr}

	log.Infow("Created backend client", "host", parsed.Host)
	return &Invoker{opts: opts, client: client, sessions: sessions, log: log}, nil
}

type Call struct {
	Ctx        context.Context
	RequestID  string
	UserID     uint64
	FlowID     string
	SessionID  string
	Credential string
	Payload    *shared.PredictionPayload
}

type Result struct {
	Body      []byte
	Preview   string
	ToolCalls *int
}

// Predict makes one buffered call and returns the backend's body untouched
// together with an answer preview.
func (iv *Invoker) Predict(call Call) (*Result, error) {
	ctx, cancel := context.WithTimeout(call.Ctx, iv.opts.Timeout)
	defer cancel()

	res, err := iv.send(ctx, call, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			iv.log.Warnw("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		if call.Ctx.Err() != nil {
			return nil, errors.Join(shared.ErrBackendContext, call.Ctx.Err())
		}
		return nil, &UpstreamError{Err: errors.Join(shared.ErrFailedReadingResponse, err)}
	}

	return &Result{
		Body:      body,
		Preview:   ExtractPreview(body, iv.opts.PreviewChars),
		ToolCalls: CountToolCalls(body),
	}, nil
}

// Stream opens a streaming call and returns the normalized frame stream.
// The caller owns the returned reader and must Close it; canceling
// call.Ctx also stops the upstream read.
func (iv *Invoker) Stream(call Call) (io.ReadCloser, error) {
	res, err := iv.send(call.Ctx, call, true)
	if err != nil {
		return nil, err
	}
	return sse.NewReader(call.Ctx, res.Body, iv.opts.MaxLineBytes), nil
}

// send returns a response with a 2xx status; anything else is turned into
// an *UpstreamError with the body already consumed.
func (iv *Invoker) send(ctx context.Context, call Call, stream bool) (*http.Response, error) {
	if call.Payload == nil {
		return nil, &shared.RequestError{StatusCode: 400, Err: errors.New("prediction payload missing")}
	}
	payload := *call.Payload
	payload.Streaming = stream
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(shared.ErrInternalServerError, err)
	}

	endpoint := iv.opts.BaseURL + "/api/v1/prediction/" + url.PathEscape(call.FlowID)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Join(shared.ErrInternalServerError, err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+call.Credential)
	r.Header.Set("X-Request-ID", call.RequestID)
	if stream {
		r.Header.Set("Accept", "text/event-stream")
	}

	iv.touchSession(call)

	start := time.Now()
	res, err := iv.client.Do(r)
	metrics.BackendLatency.WithLabelValues(fmt.Sprintf("%t", stream)).Observe(time.Since(start).Seconds())
	if err != nil {
		if call.Ctx.Err() != nil {
			return nil, errors.Join(shared.ErrBackendContext, call.Ctx.Err())
		}
		metrics.ErrorCount.WithLabelValues(shared.ErrFailedBackendReq.Code).Inc()
		return nil, &UpstreamError{Err: errors.Join(shared.ErrFailedBackendReq, err)}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer func() {
			_ = res.Body.Close()
		}()
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		message := strings.TrimSpace(string(raw))
		metrics.ErrorCount.WithLabelValues(shared.ErrFailedBackendReqFromCode.Code).Inc()
		return nil, &UpstreamError{
			StatusCode:   res.StatusCode,
			Message:      shared.Truncate(message, shared.DefaultPreviewChars),
			Unauthorized: looksUnauthorized(res.StatusCode, message),
			Err:          shared.ErrFailedBackendReqFromCode,
		}
	}
	return res, nil
}

// touchSession records the session's last request time without holding up
// the call.
func (iv *Invoker) touchSession(call Call) {
	if call.SessionID == "" || iv.sessions == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				iv.log.Errorw("Session touch panicked", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), shared.SessionTouchTimeout)
		defer cancel()
		if err := iv.sessions.TouchSession(ctx, call.UserID, call.SessionID, time.Now()); err != nil {
			iv.log.Warnw("Failed to update session last request time", "session_id", call.SessionID, "error", err)
		}
	}()
}
