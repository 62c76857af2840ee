package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/pipeline"
	"github.com/sells-group/geocluster/internal/report"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 32 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for resolving and clustering tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{
			resolver:    env.Resolver,
			cache:       env.Cache,
			concurrency: cfg.Batch.Concurrency,
			cluster:     cfg.Cluster.Options(),
			report:      reportOptions(cfg.Cluster),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(api, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// apiServer holds what the handlers need. resolver may be nil only in tests
// that never resolve.
type apiServer struct {
	resolver    *geocode.Resolver
	cache       geocode.Cache
	concurrency int
	cluster     cluster.Options
	report      report.Options
}

// buildRouter mounts the API routes behind CORS and panic recovery.
func buildRouter(s *apiServer, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", s.handleResolve)
		r.Post("/cluster", s.handleCluster)
		r.Get("/cache", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
	})
	return r
}

type resolveResponse struct {
	RunID   string                 `json:"run_id"`
	Sources map[geocode.Source]int `json:"sources"`
	Table   *dataset.Table         `json:"table"`
}

// handleResolve geocodes a posted table and returns it with Lat, Lon and
// Source appended.
func (s *apiServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	var tbl dataset.Table
	if !decodeBody(w, r, &tbl) {
		return
	}

	p := pipeline.New(s.resolver, pipeline.WithConcurrency(s.concurrency))
	b, err := p.Resolve(r.Context(), dataset.New(tbl.Columns, tbl.Rows))
	if err != nil {
		writeRequestError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		RunID:   b.RunID,
		Sources: b.SourceCounts(),
		Table:   b.Table(),
	})
}

type clusterRequest struct {
	Table              *dataset.Table `json:"table"`
	MinClusterSize     *int           `json:"min_cluster_size"`
	MinSamples         *int           `json:"min_samples"`
	AllowSingleCluster *bool          `json:"allow_single_cluster"`
	SelectionEpsilonKm *float64       `json:"selection_epsilon_km"`
}

type clusterResponse struct {
	Summary      report.Summary `json:"summary"`
	Table        *dataset.Table `json:"table"`
	Clustered    *dataset.Table `json:"clustered"`
	NonClustered *dataset.Table `json:"non_clustered"`
}

// handleCluster clusters an already resolved table (with Lat and Lon
// columns) and returns the report.
func (s *apiServer) handleCluster(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Table == nil {
		writeError(w, http.StatusBadRequest, "table is required")
		return
	}

	opts := s.cluster
	if req.MinClusterSize != nil {
		opts.MinClusterSize = *req.MinClusterSize
	}
	if req.MinSamples != nil {
		opts.MinSamples = *req.MinSamples
	}
	if req.AllowSingleCluster != nil {
		opts.AllowSingleCluster = *req.AllowSingleCluster
	}
	if req.SelectionEpsilonKm != nil {
		opts.SelectionEpsilonKm = *req.SelectionEpsilonKm
	}
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := pipeline.FromResolvedTable(dataset.New(req.Table.Columns, req.Table.Rows), uuid.NewString())
	if err != nil {
		writeRequestError(w, err)
		return
	}
	out, err := b.Cluster(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rep := report.Build(out, s.report)
	writeJSON(w, http.StatusOK, clusterResponse{
		Summary:      rep.Summary,
		Table:        rep.Full,
		Clustered:    rep.Clustered,
		NonClustered: rep.NonClustered,
	})
}

func (s *apiServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	n, err := s.cache.Len(r.Context())
	if err != nil {
		zap.L().Error("cache stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"entries": n})
}

// handleCacheClear empties the cache. It waits for in-flight resolutions.
func (s *apiServer) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var err error
	if s.resolver != nil {
		err = s.resolver.ClearCache(r.Context())
	} else {
		err = s.cache.Clear(r.Context())
	}
	if err != nil {
		zap.L().Error("cache clear failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache clear failed")
		return
	}
	zap.L().Info("geocode cache cleared via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// decodeBody reads a JSON body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeRequestError rejects a payload that failed schema or value checks.
func writeRequestError(w http.ResponseWriter, err error) {
	zap.L().Debug("rejected request", zap.Error(err))
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
