// Middleware for consistent error handling on the plugin admin HTTP surface.
//
//   - ErrorHandler: converts AppError (or any error) into the
//     {error_kind, message, details} envelope
//   - Recovery: recovers from panics, logs, returns 500
//   - HandleError / AbortWithError: helpers for handlers
package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()

		if appErr, ok := err.Err.(*AppError); ok {
			ev := log.Info()
			if appErr.StatusCode >= 500 {
				ev = log.Error()
			} else {
				ev = log.Warn()
			}
			ev.Str("error_kind", appErr.Code).Str("details", appErr.Details).Msg(appErr.Message)
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}

		log.Error().Err(err.Err).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorKind: ErrCodeInternalServer,
			Message:   "an unexpected error occurred",
		})
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("recovered from panic")
				c.JSON(http.StatusInternalServerError, ErrorResponse{
					ErrorKind: ErrCodeInternalServer,
					Message:   "an unexpected error occurred",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

func HandleError(c *gin.Context, err error) {
	if appErr, ok := err.(*AppError); ok {
		c.Error(appErr)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	internalErr := InternalServer(err.Error())
	c.Error(internalErr)
	c.JSON(internalErr.StatusCode, internalErr.ToResponse())
}

func AbortWithError(c *gin.Context, err *AppError) {
	c.Error(err)
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}
