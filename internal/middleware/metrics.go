package middleware

import (
	"fmt"
	"time"

	"flowgate/internal/ctx"
	"flowgate/internal/metrics"
	"flowgate/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 28)
			reqID = "req_" + reqID
			externalID := c.Request().Header.Get(shared.RequestIDHeader)
			logger := log.With(
				"request_id", reqID,
			)
			if externalID != "" {
				logger = logger.With("external_id", externalID)
			}
			c.Response().Header().Set(shared.RequestIDHeader, reqID)

			start := time.Now()
			cc := &ctx.Context{
				Context: c,
				Log:     logger,
				Reqid:   reqID,
				LogValues: &ctx.ContextLogValues{
					RequestID:  reqID,
					ExternalID: externalID,
					StartTime:  start,
					Path:       c.Path(),
				},
			}
			err := next(cc)
			if err != nil {
				cc.LogValues.AddError(err)
				c.Error(err)
			}

			cc.LogValues.RequestDuration = time.Since(start)
			cc.LogValues.StatusCode = cc.Response().Status
			cc.Log.Desugar().Check(cc.LogValues.Level(), "end_of_request").Write(zap.Object("request", cc.LogValues))
			metrics.ResponseCodes.WithLabelValues(cc.Path(), fmt.Sprintf("%d", cc.Response().Status)).Inc()
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error())
			return c.JSON(500, shared.ErrorResponse{
				Error: shared.ErrInternalServerError.Err.Error(),
				Type:  shared.ErrorType(500),
				Code:  500,
			})
		},
	})
}
