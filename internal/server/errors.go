package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/clinicbill/internal/observability/logger"
	"github.com/smallbiznis/clinicbill/pkg/errs"
	"go.uber.org/zap"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrMissingClinic = errs.New(errs.CodeValidation, "X-Clinic-ID header is required")
	ErrRouteNotFound = errs.New("NOT_FOUND", "route not found")
)

var kindStatus = map[errs.Kind]int{
	errs.KindValidation:    http.StatusBadRequest,
	errs.KindNotFound:      http.StatusNotFound,
	errs.KindStateConflict: http.StatusConflict,
	errs.KindInsufficiency: http.StatusUnprocessableEntity,
	errs.KindExternal:      http.StatusBadGateway,
	errs.KindForbidden:     http.StatusForbidden,
	errs.KindInternal:      http.StatusInternalServerError,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status >= http.StatusInternalServerError {
			obslogger.FromContext(c.Request.Context()).Error("request failed",
				zap.String("error_code", payload.Code),
				zap.Error(lastErr.Err),
			)
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError(err error) error {
	return errs.Wrap(errs.CodeValidation, "invalid request body", err)
}

func mapError(err error) (int, errorPayload) {
	e := errs.From(err)
	if e == nil {
		return http.StatusInternalServerError, errorPayload{
			Code:    errs.CodeInternal,
			Message: "internal server error",
		}
	}
	if e == ErrRouteNotFound {
		return http.StatusNotFound, errorPayload{Code: e.Code, Message: e.Message}
	}

	status, ok := kindStatus[e.Kind()]
	if !ok {
		status = http.StatusInternalServerError
	}
	payload := errorPayload{Code: e.Code, Message: e.Message}
	if e.Code == errs.CodeInternal {
		payload.Message = "internal server error"
	}
	return status, payload
}

func classifyErrorForLog(err error) (string, string) {
	e := errs.From(err)
	if e == nil {
		return "", ""
	}
	return string(e.Kind()), e.Code
}
