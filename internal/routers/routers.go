// Package routers maps handler results onto HTTP
package routers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"flowgate/internal/ctx"
	upstream "flowgate/internal/prediction"
	"flowgate/internal/shared"
)

func errorJSON(c *ctx.Context, status int, message string) error {
	return c.JSON(status, shared.ErrorResponse{
		Error: message,
		Type:  shared.ErrorType(status),
		Code:  status,
	})
}

// writeError is only used before any response bytes have been sent
func writeError(c *ctx.Context, err error) error {
	c.LogValues.AddError(err)

	var limited *shared.RateLimitedError
	if errors.As(err, &limited) {
		c.Response().Header().Set("Retry-After", strconv.Itoa(limited.RetryAfter(time.Now())))
		return c.JSON(http.StatusTooManyRequests, shared.ErrorResponse{
			Error:   limited.Error(),
			Type:    shared.ErrorType(http.StatusTooManyRequests),
			Code:    http.StatusTooManyRequests,
			ResetAt: limited.ResetAt.UTC().Format(time.RFC3339),
		})
	}

	// client went away, nobody is reading the answer
	if errors.Is(err, shared.ErrBackendContext) {
		return c.NoContent(499)
	}

	var upErr *upstream.UpstreamError
	if errors.As(err, &upErr) {
		c.LogValues.LogLevel = "ERROR"
		message := upErr.Error()
		if upErr.StatusCode == 0 {
			message = "backend request failed"
		}
		return c.JSON(http.StatusBadGateway, shared.ErrorResponse{
			Error: message,
			Type:  shared.ErrorType(http.StatusBadGateway),
			Code:  http.StatusBadGateway,
			Hint:  upErr.Hint(),
		})
	}

	var rerr *shared.RequestError
	if errors.As(err, &rerr) {
		if rerr.StatusCode >= 500 {
			c.LogValues.LogLevel = "ERROR"
		}
		return errorJSON(c, rerr.StatusCode, rerr.Err.Error())
	}

	c.LogValues.LogLevel = "ERROR"
	return errorJSON(c, http.StatusInternalServerError, shared.ErrInternalServerError.Err.Error())
}

func setupSSEHeaders(c *ctx.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-store, no-transform")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

func createStreamCallback(c *ctx.Context) func(chunk []byte) error {
	return func(chunk []byte) error {
		if c.Request().Context().Err() != nil {
			return c.Request().Context().Err()
		}
		if _, err := c.Response().Write(chunk); err != nil {
			return err
		}
		c.Response().Flush()
		return nil
	}
}
