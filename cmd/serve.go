package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicsense/analysis-cli/internal/model"
	"github.com/civicsense/analysis-cli/internal/orchestrator"
	"github.com/civicsense/analysis-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for analysis and fact-check requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API routes on top of an initialized environment.
func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/providers/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, env.Orchestrator.Health())
	})

	r.Post("/api/analyze", func(w http.ResponseWriter, req *http.Request) {
		var body orchestrator.Request
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !body.Mode.Valid() {
			writeError(w, http.StatusBadRequest, "unknown mode")
			return
		}

		result, err := env.Orchestrator.Analyze(req.Context(), body)
		if err != nil {
			zap.L().Error("analysis request failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "analysis failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Post("/api/factcheck", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Content string `json:"content"`
			Locale  string `json:"locale"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Content == "" {
			writeError(w, http.StatusBadRequest, "content is required")
			return
		}

		job, err := env.Factcheck.Run(req.Context(), body.Content, body.Locale)
		if err != nil {
			zap.L().Error("fact-check request failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "fact-check failed")
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Get("/api/jobs", func(w http.ResponseWriter, req *http.Request) {
		jobs, err := env.Store.ListJobs(req.Context(), store.JobFilter{
			Status: model.JobStatus(req.URL.Query().Get("status")),
			Limit:  20,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list jobs failed")
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	})

	r.Get("/api/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		job, err := env.Store.GetJob(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
