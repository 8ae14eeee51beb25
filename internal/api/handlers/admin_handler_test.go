package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func callAdminAuth(t *testing.T, configured, presented string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/auctions/a1/rerun", nil)
	if presented != "" {
		req.Header.Set(adminTokenHeader, presented)
	}
	rec := httptest.NewRecorder()

	reached := false
	next := func(c echo.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	}
	assert.Nil(t, AdminAuth(configured)(next)(e.NewContext(req, rec)))
	return rec, reached
}

func TestAdminAuthMissingToken(t *testing.T) {
	rec, reached := callAdminAuth(t, "hunter2", "")
	check.Equal(t, http.StatusUnauthorized, rec.Code)
	check.False(t, reached)
}

func TestAdminAuthWrongToken(t *testing.T) {
	rec, reached := callAdminAuth(t, "hunter2", "wrong")
	check.Equal(t, http.StatusForbidden, rec.Code)
	check.False(t, reached)
}

func TestAdminAuthUnconfiguredTokenDeniesEveryone(t *testing.T) {
	rec, reached := callAdminAuth(t, "", "anything")
	check.Equal(t, http.StatusForbidden, rec.Code)
	check.False(t, reached)
}

func TestAdminAuthAcceptsMatchingToken(t *testing.T) {
	rec, reached := callAdminAuth(t, "hunter2", "hunter2")
	check.Equal(t, http.StatusOK, rec.Code)
	check.True(t, reached)
}
