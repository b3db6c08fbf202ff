package routers

import (
	"errors"
	"net/http"

	"flowgate/internal/admission"
	"flowgate/internal/ctx"
	"flowgate/internal/handlers/prediction"
	"flowgate/internal/metrics"
	"flowgate/internal/middleware"
	"flowgate/internal/shared"
	"flowgate/internal/sse"

	"github.com/labstack/echo/v4"
)

type PredictionRouter struct {
	ph *prediction.PredictionHandler
}

func RegisterPredictionRoutes(e *echo.Group, ph *prediction.PredictionHandler, umw *middleware.UserMiddleware) {
	predictionRouter := PredictionRouter{ph: ph}

	v1 := e.Group("/v1")
	requireUser := v1.Group("", umw.ExtractUser, umw.RequireUser)
	requireUser.POST("/prediction", predictionRouter.Prediction)
}

func (pr *PredictionRouter) Prediction(cc echo.Context) error {
	c := cc.(*ctx.Context)

	body, err := admission.ReadBody(c.Request().Body, c.Request().ContentLength, pr.ph.MaxBodyBytes())
	if err != nil {
		metrics.RequestCount.WithLabelValues("rejected").Inc()
		return writeError(c, err)
	}

	reqInfo, preErr := pr.ph.Preprocess(prediction.PreprocessInput{
		Ctx:            c.Request().Context(),
		Body:           body,
		User:           *c.User,
		RequestID:      c.Reqid,
		IdempotencyKey: c.Request().Header.Get(shared.IdempotencyKeyHeader),
	})
	if preErr != nil {
		metrics.RequestCount.WithLabelValues("rejected").Inc()
		return writeError(c, preErr)
	}

	c.LogValues.FlowID = reqInfo.FlowID
	c.LogValues.SessionID = reqInfo.SessionID
	c.LogValues.Streaming = reqInfo.Stream
	c.LogValues.CredentialSource = reqInfo.CredentialSource
	c.Log = c.Log.With("flow_id", reqInfo.FlowID)

	out, reqErr := pr.ph.DoPrediction(prediction.PredictionInput{
		Req:          reqInfo,
		Ctx:          c.Request().Context(),
		StreamStart:  func() { setupSSEHeaders(c) },
		StreamWriter: createStreamCallback(c),
	})
	// Nothing has been sent back yet
	if reqErr != nil {
		return writeError(c, reqErr)
	}

	if out.Streamed {
		if out.Error != nil {
			c.LogValues.AddError(out.Error)
			c.LogValues.LogLevel = "ERROR"
			if c.Request().Context().Err() == nil {
				pr.writeStreamFailure(c)
			}
		}
		return nil
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write(out.FinalResponse); err != nil {
		c.LogValues.AddError(errors.Join(errors.New("failed writing final response"), err))
		c.LogValues.LogLevel = "ERROR"
	}
	return nil
}

// writeStreamFailure ends a broken stream with an error frame so clients can
// tell it apart from a complete one
func (pr *PredictionRouter) writeStreamFailure(c *ctx.Context) {
	encoded, err := sse.ErrorFrame("backend stream ended unexpectedly").Encode()
	if err != nil {
		return
	}
	if _, err := c.Response().Write(encoded); err != nil {
		c.LogValues.AddError(errors.Join(errors.New("failed writing error frame"), err))
		return
	}
	c.Response().Flush()
}
