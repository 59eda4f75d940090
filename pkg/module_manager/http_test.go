package module_manager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleAdmin(t *testing.T) {
	env := newTestEnv(t, nil, "Core", "ExceptionHandler", "A")
	require.NoError(t, env.m.Boot(context.Background()))

	tests := []struct {
		name   string
		form   url.Values
		status int
	}{
		{name: "load", form: url.Values{"action": {"load"}, "module": {"A"}}, status: http.StatusOK},
		{name: "load twice", form: url.Values{"action": {"load"}, "module": {"A"}}, status: http.StatusConflict},
		{name: "unload static", form: url.Values{"action": {"unload"}, "module": {"ExceptionHandler"}}, status: http.StatusConflict},
		{name: "unknown module", form: url.Values{"action": {"reload"}, "module": {"Nope"}}, status: http.StatusNotFound},
		{name: "unknown action", form: url.Values{"action": {"explode"}, "module": {"A"}}, status: http.StatusBadRequest},
		{name: "missing module", form: url.Values{"action": {"load"}}, status: http.StatusBadRequest},
		{name: "unload", form: url.Values{"action": {"unload"}, "module": {"A"}, "token": {"ignored"}}, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/modules/admin", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()

			env.m.handleAdmin(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleListModules(t *testing.T) {
	env := newTestEnv(t, nil, "Core", "A")
	require.NoError(t, env.m.Boot(context.Background()))

	rec := httptest.NewRecorder()
	env.m.handleListModules(rec, httptest.NewRequest(http.MethodGet, "/modules", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ModuleDescriptor
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, ModuleDescriptor{Name: "Core", Present: true, Running: true, Static: true}, got[0])
	assert.Equal(t, ModuleDescriptor{Name: "A", Present: true}, got[1])
}
