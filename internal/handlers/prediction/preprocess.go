package prediction

import (
	"context"
	"errors"
	"time"

	"flowgate/internal/admission"
	"flowgate/internal/flowconfig"
	"flowgate/internal/shared"
)

type PreprocessInput struct {
	Ctx       context.Context
	Body      []byte
	User      shared.UserMetadata
	RequestID string
	// IdempotencyKey from the request header; the body field wins when both are set
	IdempotencyKey string
}

type RequestInfo struct {
	ID               string
	UserID           uint64
	StartTime        time.Time
	FlowID           string
	SessionID        string
	Question         string
	Stream           bool
	Credential       string
	CredentialSource string
	Payload          *shared.PredictionPayload
}

// Preprocess runs every check that can reject the request before the backend
// is called. Checks run in order and stop at the first failure.
func (ph *PredictionHandler) Preprocess(input PreprocessInput) (*RequestInfo, error) {
	startTime := time.Now()

	req, err := admission.Parse(input.Body, ph.limits)
	if err != nil {
		return nil, err
	}

	if err := ph.rateLimiter.Allow(input.Ctx, shared.PredictionOperation, input.User.UserID); err != nil {
		if ctxErr := input.Ctx.Err(); ctxErr != nil {
			return nil, errors.Join(shared.ErrBackendContext, ctxErr)
		}
		var limited *shared.RateLimitedError
		if errors.As(err, &limited) {
			return nil, err
		}
		ph.log.Warnw("Rate limit check failed, allowing request", "error", err, "user_id", input.User.UserID)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = input.IdempotencyKey
	}
	if key != "" {
		if err := ph.idempotency.Claim(input.Ctx, shared.PredictionOperation, input.User.UserID, key); err != nil {
			if ctxErr := input.Ctx.Err(); ctxErr != nil {
				return nil, errors.Join(shared.ErrBackendContext, ctxErr)
			}
			return nil, err
		}
	}

	resolved, err := ph.resolver.Resolve(flowconfig.ResolveInput{
		Ctx:       input.Ctx,
		UserID:    input.User.UserID,
		FlowID:    req.FlowID,
		SessionID: req.SessionID,
		Overrides: req.OverrideConfig,
	})
	if err != nil {
		return nil, err
	}

	return &RequestInfo{
		ID:               input.RequestID,
		UserID:           input.User.UserID,
		StartTime:        startTime,
		FlowID:           req.FlowID,
		SessionID:        req.SessionID,
		Question:         *req.Question,
		Stream:           req.Streaming,
		Credential:       resolved.Credential.Secret,
		CredentialSource: resolved.Credential.Source,
		Payload: &shared.PredictionPayload{
			Question:       *req.Question,
			History:        req.History,
			OverrideConfig: resolved.OverrideConfig,
			Streaming:      req.Streaming,
			Uploads:        req.Uploads,
		},
	}, nil
}
