package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/docextract/docpipe"
	"github.com/hazyhaar/docextract/shield"
)

// --- serve ---

type serveOptions struct {
	addr      string
	maxBody   int64
	rateLimit int
}

func newServeCmd(opts *options) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extraction HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a.logger, a.pipe, so)
		},
	}
	f := cmd.Flags()
	f.StringVar(&so.addr, "addr", envOr("DOCEXTRACT_ADDR", ":8080"), "listen address")
	f.Int64Var(&so.maxBody, "max-body", 100<<20, "max request body in bytes")
	f.IntVar(&so.rateLimit, "rate-limit", 60, "extract and batch requests per minute per client (0 disables)")
	return cmd
}

// newRouter assembles the HTTP API behind the shield stack.
func newRouter(pipe *docpipe.Pipeline, so *serveOptions, done <-chan struct{}) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(so.maxBody) {
		r.Use(mw)
	}
	if so.rateLimit > 0 {
		rule := shield.RateLimitConfig{MaxRequests: so.rateLimit, WindowSeconds: 60, Enabled: true}
		rl := shield.NewRateLimiter(map[string]shield.RateLimitConfig{
			"POST /extract": rule,
			"POST /batch":   rule,
		}, "/health")
		rl.StartReloader(done)
		r.Use(rl.Middleware)
	}
	pipe.RegisterHTTP(r)
	return r
}

func serve(ctx context.Context, logger *slog.Logger, pipe *docpipe.Pipeline, so *serveOptions) error {
	srv := &http.Server{
		Addr:              so.addr,
		Handler:           newRouter(pipe, so, ctx.Done()),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("docextract: server starting", "addr", so.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("docextract: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("docextract: server stopped")
	return nil
}

// --- mcp ---

func newMCPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the extraction tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(&mcp.Implementation{Name: "docextract", Version: version}, nil)
			a.pipe.RegisterMCP(srv)
			a.logger.Info("docextract: mcp on stdio")
			if err := srv.Run(cmd.Context(), &mcp.StdioTransport{}); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
