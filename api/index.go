// Package handler is the serverless entry point: one function serving the dashboard.
package handler

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/eink-dashboard/internal/app"
	"github.com/kjstillabower/eink-dashboard/internal/config"
	httphandler "github.com/kjstillabower/eink-dashboard/internal/http"
	"github.com/kjstillabower/eink-dashboard/internal/observability"
)

var (
	setupOnce sync.Once
	dashboard http.Handler
	logger    *zap.Logger
	setupErr  error
)

// setup runs once per warm instance. Configuration comes from the environment only.
func setup() {
	logger, setupErr = observability.NewLogger()
	if setupErr != nil {
		return
	}
	cfg, err := config.FromEnv()
	if err != nil {
		setupErr = err
		return
	}
	a := app.New(cfg, logger)

	var h http.Handler = http.HandlerFunc(a.Handler.GetDashboard)
	h = httphandler.TimeoutMiddleware(cfg.RequestTimeout)(h)
	dashboard = httphandler.CorrelationIDMiddleware(logger)(h)
}

// Handler serves the dashboard for any method and path routed to this function.
func Handler(w http.ResponseWriter, r *http.Request) {
	setupOnce.Do(setup)
	if setupErr != nil {
		if logger != nil {
			logger.Error("dashboard setup failed", zap.Error(setupErr))
		} else {
			fmt.Fprintf(os.Stderr, "dashboard setup failed: %v\n", setupErr)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "Feil: "+setupErr.Error())
		return
	}
	defer func() { _ = logger.Sync() }()
	dashboard.ServeHTTP(w, r)
}
