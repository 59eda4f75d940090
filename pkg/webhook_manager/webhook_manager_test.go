package webhook_manager

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthz(t *testing.T) {
	m, err := New(Config{ListenAddress: "127.0.0.1:0"}, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterRoute_Token(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}

	tests := []struct {
		name       string
		adminToken string
		header     string
		form       url.Values
		want       int
	}{
		{name: "disabled", adminToken: "", form: url.Values{"token": {""}}, want: http.StatusUnauthorized},
		{name: "missing", adminToken: "s3cret", want: http.StatusUnauthorized},
		{name: "wrong form token", adminToken: "s3cret", form: url.Values{"token": {"nope"}}, want: http.StatusUnauthorized},
		{name: "form token", adminToken: "s3cret", form: url.Values{"token": {"s3cret"}}, want: http.StatusNoContent},
		{name: "bearer", adminToken: "s3cret", header: "Bearer s3cret", want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(Config{AdminToken: tt.adminToken}, zap.NewNop())
			require.NoError(t, err)
			m.RegisterRoute("/admin", ok, []string{http.MethodPost}, true)

			req := httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
