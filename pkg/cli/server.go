package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mchmarny/microscore/pkg/config"
	"github.com/mchmarny/microscore/pkg/logging"
	"github.com/mchmarny/microscore/pkg/mid"
	urfave "github.com/urfave/cli/v3"
)

const (
	serverTimeoutSeconds = 30
	serverMaxHeaderBytes = 20
	serverPortDefault    = 8080

	portFlag = "port"
	addrFlag = "addr"
)

func (a *app) serveCmd() *urfave.Command {
	return &urfave.Command{
		Name:    "serve",
		Aliases: []string{"server"},
		Usage:   "Start the scoring HTTP API",
		Action:  a.cmdServe,
		Flags: []urfave.Flag{
			&urfave.IntFlag{
				Name:  portFlag,
				Usage: "Port on which the server will listen (default: config or PORT)",
			},
			&urfave.StringFlag{
				Name:  addrFlag,
				Usage: "Address on which the server will listen",
			},
		},
	}
}

func (a *app) cmdServe(ctx context.Context, cmd *urfave.Command) error {
	level := "info"
	if a.debug {
		level = "debug"
	}
	log := logging.NewServerLogger(os.Stdout, level)
	slog.SetDefault(log)

	d, err := a.getDeps(ctx)
	if err != nil {
		return err
	}

	port := a.cfg.Server.Port
	if cmd.IsSet(portFlag) {
		port = int(cmd.Int(portFlag))
	}
	if port <= 0 {
		port = serverPortDefault
	}
	host := a.cfg.Server.Address
	if cmd.IsSet(addrFlag) {
		host = cmd.String(addrFlag)
	}
	address := fmt.Sprintf("%s:%d", host, port)

	svc := &service{
		features:  d.features,
		store:     d.store,
		models:    d.models,
		scorer:    d.scorer,
		rates:     d.rates,
		publisher: d.publisher,
		version:   version,
	}

	// load the model before accepting requests
	if _, err := d.models.Get(); err != nil {
		log.Warn("model not loaded, requests will fail until it is available", "error", err)
	}

	handler := mid.New(
		mid.Recover(log),
		mid.Logger(log),
		mid.CORS(a.cfg.Server.CORSOrigin),
		mid.RateLimit(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst),
		mid.OTel(config.AppName),
	).Then(makeRouter(svc))

	s := &http.Server{
		Addr:           address,
		Handler:        handler,
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		IdleTimeout:    4 * serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", "address", address)
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	wait := a.cfg.Server.ShutdownTimeout
	if wait <= 0 {
		wait = 10 * time.Second
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	if err := s.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

func makeRouter(s *service) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.rootHandler())
	mux.HandleFunc("GET /health", s.healthHandler())

	mux.HandleFunc("GET /api/users/{id}/score", s.scoreHandler())
	mux.HandleFunc("GET /api/users/{id}/simulate", s.simulateHandler())
	mux.HandleFunc("GET /api/score/diagnose/{id}", s.diagnoseHandler())
	mux.HandleFunc("GET /api/score/{id}", s.scoreHandler())

	mux.HandleFunc("/", notFoundHandler)

	return mux
}
