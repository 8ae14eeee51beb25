package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

func httpStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindFailedPrecondition, domain.KindConflict:
		return http.StatusConflict
	case domain.KindPaymentGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps the error taxonomy onto HTTP. Untyped errors stay opaque.
func respondError(c echo.Context, err error) error {
	kind := domain.KindOf(err)
	msg := "internal error"
	var de *domain.Error
	if errors.As(err, &de) {
		msg = de.Msg
	}
	return c.JSON(httpStatus(kind), map[string]string{
		"error": msg,
		"code":  kind.String(),
	})
}
