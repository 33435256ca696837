package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/audit"
	"guildhall.org/internal/auth"
	"guildhall.org/internal/config"
	"guildhall.org/internal/governance"
	"guildhall.org/internal/httpapi"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/obs"
	"guildhall.org/internal/store/pg"
	"guildhall.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("log level")
	}
	obs.Init()
	obs.SetBuildInfo(version, commit)

	var (
		db      *sql.DB
		bank    ledger.Service
		history httpapi.ActivityReader
		state   governance.StateStore
		sinks   = []activity.Notifier{audit.Notifier{}}
	)
	st := stream.New()
	sinks = append(sinks, st)

	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		db = store.DB()
		bank = store
		sink := pg.NewActivitySink(db)
		sinks = append(sinks, sink)
		history = sink
		state = store
		log.Info("using postgres ledger and organization store")
	} else {
		bank = ledger.NewInMemory()
		log.Warn("GUILDHALL_PG_DSN not set; balances live in memory only")
	}

	notifier := activity.Fanout{
		Notifiers: sinks,
		OnError: func(evt activity.Event, err error) {
			log.WithError(err).WithField("event_id", evt.ID).WithField("kind", evt.Kind).Warn("activity delivery failed")
		},
	}
	opts := []governance.Option{
		governance.WithDefaults(cfg.Governance.OrgConfig()),
		governance.WithNotifier(notifier),
	}
	if state != nil {
		opts = append(opts, governance.WithStateStore(state))
	}
	gov := governance.New(bank, opts...)
	restored, err := gov.Restore(context.Background())
	if err != nil {
		log.WithError(err).Fatal("restore organizations")
	}
	if restored > 0 {
		log.WithField("organizations", restored).Info("organizations restored")
	}

	secret := cfg.Auth.Secret
	if secret == "" {
		secret = rand.Text()
		log.Warn("GUILDHALL_AUTH_SECRET not set; using an ephemeral secret, tokens will not survive a restart")
	}
	issuer, err := auth.NewIssuer(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		log.WithError(err).Fatal("auth issuer")
	}

	ready := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(gov, httpapi.Options{
		Version:    version,
		Ready:      ready,
		Ledger:     bank,
		Stream:     st,
		Issuer:     issuer,
		History:    history,
		DevFaucet:  cfg.DevFaucet,
		RatePerSec: cfg.RateLimit.RPS,
		RateBurst:  cfg.RateLimit.Burst,
		CORSOrigin: cfg.CORSOrigin,
	})
	if cfg.DevFaucet {
		log.Warn("dev faucet enabled; anyone with a token can mint funds")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := httpapi.NewHealthServer(ready)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}
	go health.Run(ctx, 10*time.Second)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Error("grpc serve")
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()
	log.WithField("version", version).
		WithField("http_addr", cfg.HTTPAddr).
		WithField("grpc_addr", cfg.GRPCAddr).
		Info("guildd started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}
