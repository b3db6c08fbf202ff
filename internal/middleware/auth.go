// Package middleware defines request tracking, panic recovery and route
// based authentication
package middleware

import (
	"context"
	"errors"
	"net/http"

	"flowgate/internal/ctx"
	"flowgate/internal/shared"

	"github.com/labstack/echo/v4"
)

type UserLookup interface {
	GetUserMetadataFromKey(ctx context.Context, apiKey string) (*shared.UserMetadata, error)
}

type UserMiddleware struct {
	users UserLookup
}

func NewUserMiddleware(users UserLookup) *UserMiddleware {
	return &UserMiddleware{users: users}
}

// ExtractUser attaches the caller when a valid key is present. The reason a
// key was rejected is kept for RequireUser.
func (u *UserMiddleware) ExtractUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(cc echo.Context) error {
		c := cc.(*ctx.Context)
		c.User = nil

		apiKey, err := shared.ExtractAPIKey(c)
		if err != nil {
			c.Set(authErrorKey, err)
			return next(c)
		}
		user, err := u.users.GetUserMetadataFromKey(c.Request().Context(), apiKey)
		if err != nil {
			c.Set(authErrorKey, err)
			return next(c)
		}
		c.User = user
		c.Log = c.Log.With("user_id", c.User.UserID)
		c.LogValues.UserID = c.User.UserID
		return next(c)
	}
}

func (u *UserMiddleware) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(cc echo.Context) error {
		c := cc.(*ctx.Context)
		if c.User != nil {
			return next(c)
		}

		message := shared.ErrUnauthorized.Err.Error()
		if err, ok := c.Get(authErrorKey).(error); ok {
			c.LogValues.AddError(err)
			var rerr *shared.RequestError
			if errors.As(err, &rerr) {
				message = rerr.Err.Error()
			}
		} else {
			message = shared.ErrMissingAuth.Err.Error()
		}
		return c.JSON(http.StatusUnauthorized, shared.ErrorResponse{
			Error: message,
			Type:  shared.ErrorType(http.StatusUnauthorized),
			Code:  http.StatusUnauthorized,
		})
	}
}

const authErrorKey = "auth_error"
