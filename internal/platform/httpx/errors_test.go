package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warden-rbac/warden/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("token: %w", shared.ErrAuthentication), http.StatusUnauthorized},
		{shared.ErrAuthorization, http.StatusForbidden},
		{shared.ErrInfrastructure, http.StatusForbidden},
		{shared.ErrThrottled, http.StatusTooManyRequests},
		{shared.ErrInvalidCredentials, http.StatusUnauthorized},
		{shared.ErrAccountLocked, http.StatusForbidden},
		{shared.ErrNotFound, http.StatusNotFound},
		{ErrValidation, http.StatusBadRequest},
		{shared.ErrImmutable, http.StatusConflict},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestRespondErrorNeverLeaksDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("select * from users: %w", shared.ErrNotFound))

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "Not Found", body.Title)
	require.Empty(t, body.Detail)
}

func TestRespondErrorLocalizesTitle(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	rec := httptest.NewRecorder()
	RespondError(rec, req, shared.ErrThrottled)

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "尝试次数过多，请稍后再试", body.Title)
	require.Equal(t, http.StatusTooManyRequests, body.Status)
}

func TestRequestLanguageFallsBackToEnglish(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "fr-FR")
	require.Equal(t, "Forbidden", Localize(req, "Forbidden"))
	require.Equal(t, "Forbidden", Localize(nil, "Forbidden"))
}
