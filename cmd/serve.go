package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/review-crawler/internal/model"
	"github.com/sells-group/review-crawler/internal/pipeline"
	"github.com/sells-group/review-crawler/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server that accepts crawl requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		srv := newCrawlServer(ctx, pipeline.New(cfg, st).Run, st)
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		// Crawls observe ctx and record their remaining pages as canceled.
		srv.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// crawlRequest is the body of POST /crawls.
type crawlRequest struct {
	CityID  string `json:"city_id"`
	HotelID string `json:"hotel_id"`
	Name    string `json:"name"`
	Pages   int    `json:"pages"`
	Policy  string `json:"policy"`
}

// crawlServer accepts crawl requests and serves run history. Concurrent
// requests for the same hotel share one crawl.
type crawlServer struct {
	ctx   context.Context
	run   runCrawl
	store store.Store
	group singleflight.Group
	wg    sync.WaitGroup
}

// newCrawlServer creates a server whose crawls run under ctx rather than
// the request context. st may be nil.
func newCrawlServer(ctx context.Context, run runCrawl, st store.Store) *crawlServer {
	return &crawlServer{ctx: ctx, run: run, store: st}
}

// Routes returns the HTTP handler.
func (s *crawlServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/crawls", s.handleCrawl)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

// Wait blocks until every accepted crawl has returned.
func (s *crawlServer) Wait() {
	s.wg.Wait()
}

func (s *crawlServer) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hotel := model.Hotel{CityID: req.CityID, HotelID: req.HotelID, Name: req.Name}
	if err := hotel.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Pages == 0 {
		req.Pages = 1
	}
	if req.Pages < 1 {
		writeError(w, http.StatusBadRequest, "pages must be at least 1")
		return
	}

	key := hotel.Key()
	opts := pipeline.RunOptions{Pages: req.Pages, Policy: req.Policy}
	ch := s.group.DoChan(key, func() (any, error) {
		return s.run(s.ctx, hotel, opts)
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := <-ch
		log := zap.L().With(zap.String("hotel", key), zap.Bool("shared", res.Shared))
		if res.Err != nil {
			log.Error("serve: crawl failed", zap.Error(res.Err))
			return
		}
		if o, ok := res.Val.(*pipeline.Outcome); ok && o != nil {
			log.Info("serve: crawl finished",
				zap.String("status", string(o.Status)),
				zap.String("run_id", o.RunID),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"hotel":  key,
	})
}

func (s *crawlServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:   model.RunStatus(q.Get("status")),
		HotelKey: q.Get("hotel"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("serve: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *crawlServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	detail, err := loadRunDetail(r.Context(), s.store, chi.URLParam(r, "id"))
	if err != nil {
		var nf *store.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		zap.L().Error("serve: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
