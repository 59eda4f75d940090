package webhook_manager

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Config struct {
	ListenAddress string
	AdminToken    string
}

func NewConfig() (Config, error) {
	c := Config{
		ListenAddress: "127.0.0.1:8090",
	}

	if listenAddr := os.Getenv("DAYBREAK_LISTEN_ADDR"); listenAddr != "" {
		c.ListenAddress = listenAddr
	}
	c.AdminToken = os.Getenv("DAYBREAK_ADMIN_TOKEN")

	return c, nil
}

type Manager interface {
	Run(ctx context.Context)
	RegisterRoute(route string, f http.HandlerFunc, methods []string, requireToken bool)
	Handler() http.Handler
}

type ManagerImpl struct {
	l      *zap.Logger
	c      Config
	server *http.Server

	router *mux.Router
}

func (m *ManagerImpl) Run(ctx context.Context) {
	m.server.Handler = m.router

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.l.Error("listen error", zap.Error(err))
		}
	}()
	m.l.Info("listening", zap.String("addr", m.c.ListenAddress))

	<-ctx.Done()

	m.l.Info("Shutting down webhook server")
	// shut down gracefully, but wait no longer than 5 seconds before halting
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.server.Shutdown(ctx)
	m.l.Info("Shut down webhook server")
}

func (m *ManagerImpl) Handler() http.Handler {
	return m.router
}

func (m *ManagerImpl) RegisterRoute(path string, f http.HandlerFunc, methods []string, requireToken bool) {
	handler := f
	if requireToken {
		handler = m.ValidateAdminToken(f)
	}

	m.router.HandleFunc(path, handler).Methods(methods...)
	m.l.Info("registering route", zap.String("path", path), zap.Strings("methods", methods))
}

// ValidateAdminToken accepts the admin token as a bearer header or a "token" form value.
// Every request is rejected when no admin token is configured.
func (m *ManagerImpl) ValidateAdminToken(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if m.c.AdminToken == "" {
			http.Error(rw, "admin endpoints disabled", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.FormValue("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(m.c.AdminToken)) != 1 {
			m.l.Warn("rejected admin request", zap.String("path", r.URL.Path))
			http.Error(rw, "invalid token", http.StatusUnauthorized)
			return
		}

		f(rw, r)
	}
}

func New(c Config, l *zap.Logger) (*ManagerImpl, error) {
	router := mux.NewRouter()
	m := &ManagerImpl{
		l:      l.Named("webhook-manager"),
		c:      c,
		router: router,
		server: &http.Server{
			Addr:              c.ListenAddress,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return m, nil
}
