package prediction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"flowgate/internal/audit"
	"flowgate/internal/metrics"
	upstream "flowgate/internal/prediction"
	"flowgate/internal/shared"
)

type PredictionInput struct {
	Req *RequestInfo
	Ctx context.Context

	// StreamStart runs once the backend has accepted a streaming call and
	// before the first StreamWriter call. Errors before this point have not
	// written anything to the client.
	StreamStart  func()
	StreamWriter func(chunk []byte) error
}

type PredictionOutput struct {
	// FinalResponse is the backend body for buffered calls
	FinalResponse []byte
	Streamed      bool
	// Error is set when a stream failed after StreamStart
	Error error
}

// DoPrediction calls the backend. A returned error means nothing has been
// sent to the client yet.
func (ph *PredictionHandler) DoPrediction(input PredictionInput) (*PredictionOutput, error) {
	req := input.Req
	call := upstream.Call{
		Ctx:        input.Ctx,
		RequestID:  req.ID,
		UserID:     req.UserID,
		FlowID:     req.FlowID,
		SessionID:  req.SessionID,
		Credential: req.Credential,
		Payload:    req.Payload,
	}

	if !req.Stream {
		res, err := ph.invoker.Predict(call)
		if err != nil {
			ph.observe(req, failureOutcome(input.Ctx))
			return nil, err
		}
		ph.audit.Record(audit.Event{
			StartTime:     req.StartTime,
			UserID:        req.UserID,
			SessionID:     req.SessionID,
			FlowID:        req.FlowID,
			Prompt:        req.Question,
			Response:      res.Preview,
			ToolCallCount: res.ToolCalls,
		})
		ph.observe(req, "success")
		return &PredictionOutput{FinalResponse: res.Body}, nil
	}

	stream, err := ph.invoker.Stream(call)
	if err != nil {
		ph.observe(req, failureOutcome(input.Ctx))
		return nil, err
	}
	defer func() {
		_ = stream.Close()
	}()

	ph.audit.Record(audit.Event{
		StartTime: req.StartTime,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		FlowID:    req.FlowID,
		Prompt:    req.Question,
		Streaming: true,
	})

	if input.StreamStart != nil {
		input.StreamStart()
	}
	out := &PredictionOutput{Streamed: true}
	out.Error = forward(stream, input.StreamWriter)
	switch {
	case out.Error == nil:
		ph.observe(req, "success")
	case input.Ctx.Err() != nil:
		ph.observe(req, "canceled")
	default:
		ph.observe(req, "stream_error")
	}
	return out, nil
}

// forward copies normalized frames to the client as they arrive
func forward(stream io.Reader, write func([]byte) error) error {
	buf := make([]byte, shared.StreamReadSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if werr := write(buf[:n]); werr != nil {
				return errors.Join(errors.New("failed writing to client"), werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func failureOutcome(ctx context.Context) string {
	if ctx.Err() != nil {
		return "canceled"
	}
	return "upstream_error"
}

func (ph *PredictionHandler) observe(req *RequestInfo, outcome string) {
	metrics.RequestCount.WithLabelValues(outcome).Inc()
	metrics.RequestDuration.WithLabelValues(fmt.Sprintf("%t", req.Stream)).Observe(time.Since(req.StartTime).Seconds())
}
