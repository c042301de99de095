package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/board-api/domain"
)

func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "details"}. Causes of unexpected
// failures are logged and never sent to the client.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	c.Set(ctxFailure, err)
	de := domain.Unexpected(err)
	status := statusForKind(de.Kind)
	if status == http.StatusInternalServerError {
		logger.WithFields(log.Fields{
			"method": c.Request().Method,
			"route":  c.Path(),
		}).Errorf("request failed: %v", err)
	}
	return c.JSON(status, errorResponse{Error: de.Message, Details: de.Details})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func unauthorized(c echo.Context, err error) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
}
