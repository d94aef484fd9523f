package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"giftvalue/internal/config"
	"giftvalue/internal/data"
	"giftvalue/internal/logger"
	"giftvalue/internal/render"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	clog, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer clog.Close()

	if cfg.Data.BaseURL != "" {
		clog.Infof("reading data from %s", cfg.Data.BaseURL)
	} else {
		clog.Infof("reading data from directory %s", cfg.Data.Dir)
	}

	a := newApp(cfg, clog)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.Timeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		clog.Infof("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	clog.Infof("server stopped")
}

// routes wires the handlers. The page and the JSON API share one pipeline.
func (a *app) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/", a.handlePage).Methods(http.MethodGet)
	r.HandleFunc("/api/gift", a.handleGift).Methods(http.MethodGet)
	r.HandleFunc("/data/{file}", a.handleData).Methods(http.MethodGet)

	r.Use(a.withRequestID, withGzip, a.recoverPanic)
	return r
}

func (a *app) handlePage(w http.ResponseWriter, r *http.Request) {
	p := a.page(r.Context(), r.URL.Query())
	writeHTML(w, http.StatusOK, p, a.recipientParam)
}

func (a *app) handleGift(w http.ResponseWriter, r *http.Request) {
	p := a.page(r.Context(), r.URL.Query())
	writeJSON(w, http.StatusOK, p)
}

// handleData exposes the static documents read-only.
func (a *app) handleData(w http.ResponseWriter, r *http.Request) {
	b, err := a.src.Read(r.Context(), mux.Vars(r)["file"])
	if err != nil {
		if errors.Is(err, data.ErrUnknownFile) || errors.Is(err, os.ErrNotExist) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		a.log.Errorf("data: %v", err)
		http.Error(w, "unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, p render.Page) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(p)
}

type requestIDKey struct{}

// withRequestID tags each request with a uuid and logs its outcome.
func (a *app) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		a.log.Infof("%s %s %d %s request_id=%s", r.Method, r.URL.Path, rw.status, time.Since(start).Round(time.Millisecond), id)
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// recoverPanic is the catch-all: any panic renders the reload prompt.
func (a *app) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Errorf("panic serving %s: %v", r.URL.Path, rec)
				if strings.HasPrefix(r.URL.Path, "/api/") {
					writeJSON(w, http.StatusInternalServerError, render.ErrorPage())
					return
				}
				writeHTML(w, http.StatusInternalServerError, render.ErrorPage(), a.recipientParam)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
