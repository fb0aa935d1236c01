package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobsignal/archetype-cli/internal/model"
	"github.com/jobsignal/archetype-cli/internal/pipeline"
	"github.com/jobsignal/archetype-cli/internal/store"
	"github.com/jobsignal/archetype-cli/internal/synth"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the archetype query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env.Store, env.Engine),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(st store.Store, eng *pipeline.Engine) http.Handler {
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

	r.Route("/v1", func(r chi.Router) {
		r.Get("/archetypes", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			f := store.ArchetypeFilter{
				Company:    q.Get("company"),
				Metro:      q.Get("metro"),
				Role:       q.Get("role"),
				Seniority:  model.Seniority(q.Get("seniority")),
				RecordType: model.RecordType(q.Get("record_type")),
			}
			if v := q.Get("min_confidence"); v != "" {
				mc, err := strconv.ParseFloat(v, 64)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid min_confidence")
					return
				}
				f.MinConfidence = mc
			}
			if v := q.Get("needs_review"); v != "" {
				nr, err := strconv.ParseBool(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid needs_review")
					return
				}
				f.NeedsReview = &nr
			}
			if v := q.Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid limit")
					return
				}
				f.Limit = n
			}

			archs, err := st.QueryArchetypes(req.Context(), f)
			if err != nil {
				zap.L().Error("query archetypes", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "query failed")
				return
			}
			writeJSON(w, http.StatusOK, archs)
		})

		r.Get("/archetypes/{id}", func(w http.ResponseWriter, req *http.Request) {
			arch, err := st.GetArchetype(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				zap.L().Error("get archetype", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "query failed")
				return
			}
			if arch == nil {
				writeError(w, http.StatusNotFound, "archetype not found")
				return
			}
			writeJSON(w, http.StatusOK, arch)
		})

		r.Get("/archetypes/{id}/evidence", func(w http.ResponseWriter, req *http.Request) {
			includeSuperseded, _ := strconv.ParseBool(req.URL.Query().Get("all"))
			links, err := st.ListEvidenceLinks(req.Context(), chi.URLParam(req, "id"), includeSuperseded)
			if err != nil {
				zap.L().Error("list evidence", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "query failed")
				return
			}
			writeJSON(w, http.StatusOK, links)
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			runs, err := st.ListRuns(req.Context(), limit)
			if err != nil {
				zap.L().Error("list runs", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "query failed")
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/review", func(w http.ResponseWriter, req *http.Request) {
			status := model.ReviewStatus(req.URL.Query().Get("status"))
			if status == "" {
				status = model.ReviewPending
			}
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			items, err := st.ListReviewItems(req.Context(), status, limit)
			if err != nil {
				zap.L().Error("list review items", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "query failed")
				return
			}
			writeJSON(w, http.StatusOK, items)
		})

		r.Post("/materialize", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Company   string `json:"company"`
				Metro     string `json:"metro"`
				Role      string `json:"role"`
				Seniority string `json:"seniority"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if body.Company == "" || body.Metro == "" || body.Role == "" {
				writeError(w, http.StatusBadRequest, "company, metro, and role are required")
				return
			}
			seniority := model.Seniority(body.Seniority)
			if seniority == "" {
				seniority = model.SeniorityMid
			}

			res, err := eng.Materialize(req.Context(), model.ArchetypeKey{
				Company:   body.Company,
				Metro:     body.Metro,
				Role:      body.Role,
				Seniority: seniority,
			}, "")
			if err != nil {
				zap.L().Error("materialize", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "materialize failed")
				return
			}
			if res.State == synth.StateUnseen {
				writeError(w, http.StatusNotFound, "no evidence and no prior for that cell")
				return
			}
			writeJSON(w, http.StatusOK, res.Archetype)
		})
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
