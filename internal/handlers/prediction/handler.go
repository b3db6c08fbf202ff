// Package prediction orchestrates one prediction request: admission, rate
// limiting, idempotency, config resolution and the backend call.
package prediction

import (
	"context"

	"flowgate/internal/audit"
	"flowgate/internal/config"
	"flowgate/internal/flowconfig"
	"flowgate/internal/limits"
	upstream "flowgate/internal/prediction"

	"go.uber.org/zap"
)

type PredictionHandler struct {
	limits      config.LimitsConfig
	rateLimiter *limits.RateLimiter
	idempotency *limits.IdempotencyTracker
	resolver    *flowconfig.Resolver
	invoker     *upstream.Invoker
	audit       *audit.Logger
	log         *zap.SugaredLogger
}

type Dependencies struct {
	Limits      config.LimitsConfig
	RateLimiter *limits.RateLimiter
	Idempotency *limits.IdempotencyTracker
	Resolver    *flowconfig.Resolver
	Invoker     *upstream.Invoker
	Audit       *audit.Logger
	Log         *zap.SugaredLogger
}

func NewPredictionHandler(deps Dependencies) *PredictionHandler {
	return &PredictionHandler{
		limits:      deps.Limits,
		rateLimiter: deps.RateLimiter,
		idempotency: deps.Idempotency,
		resolver:    deps.Resolver,
		invoker:     deps.Invoker,
		audit:       deps.Audit,
		log:         deps.Log,
	}
}

// ShutDown waits for detached audit writes
func (ph *PredictionHandler) ShutDown(ctx context.Context) error {
	return ph.audit.Shutdown(ctx)
}

func (ph *PredictionHandler) MaxBodyBytes() int64 {
	return ph.limits.MaxBodyBytes
}
