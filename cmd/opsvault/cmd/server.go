package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/opsvault/api"
	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/auth"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/session"
	"github.com/jmcleod/opsvault/storage"
	"github.com/jmcleod/opsvault/vault"
)

const sweepInterval = 5 * time.Minute

var serverOpts struct {
	port               int
	tlsCert            string
	tlsKey             string
	sessionTTL         time.Duration
	sessionIdle        time.Duration
	vaultIdle          time.Duration
	maxSecondFactor    int
	webhookURL         string
	webhookHeader      string
	trustedProxies     string
	loginAlertFailures int
	revealAlertCount   int
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the opsvault HTTPS server",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntVarP(&serverOpts.port, "port", "p", 8443, "Port to listen on")
	f.StringVar(&serverOpts.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&serverOpts.tlsKey, "tls-key", "", "Path to TLS key file")
	f.DurationVar(&serverOpts.sessionTTL, "session-ttl", auth.DefaultSessionTTL, "Absolute session lifetime")
	f.DurationVar(&serverOpts.sessionIdle, "session-idle-timeout", session.DefaultIdleTimeout, "End sessions idle this long (0 disables)")
	f.DurationVar(&serverOpts.vaultIdle, "vault-idle-timeout", vault.DefaultIdleTimeout, "Lock a session's vault after this much inactivity")
	f.IntVar(&serverOpts.maxSecondFactor, "2fa-max-attempts", auth.DefaultMaxSecondFactorAttempts, "Wrong codes allowed per login challenge")
	f.StringVar(&serverOpts.webhookURL, "audit-webhook-url", "", "POST every audit entry to this URL")
	f.StringVar(&serverOpts.webhookHeader, "audit-webhook-header", "", `Extra webhook header as "Name: value"`)
	f.StringVar(&serverOpts.trustedProxies, "trusted-proxies", "", "Comma-separated CIDRs whose forwarding headers are trusted")
	f.IntVar(&serverOpts.loginAlertFailures, "alert-login-failures", audit.DefaultLoginFailureThreshold, "Alert after this many login failures within a minute")
	f.IntVar(&serverOpts.revealAlertCount, "alert-reveals", audit.DefaultRevealThreshold, "Alert after one user reveals this many secrets within five minutes")
}

func runServer(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger, err := cfg.newLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	params, err := cfg.kdfParams()
	if err != nil {
		return err
	}
	proxies, err := api.ParseTrustedProxies(serverOpts.trustedProxies)
	if err != nil {
		return fmt.Errorf("invalid --trusted-proxies: %w", err)
	}

	appKey, err := cfg.loadAppKey()
	if err != nil {
		return err
	}
	defer util.WipeBytes(appKey)

	repo, err := cfg.openRepository(ctx)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer repo.Close()

	sessions, closeSessions, err := openSessionStore(repo, appKey)
	if err != nil {
		return err
	}
	defer closeSessions()

	auditOpts := []audit.Option{
		audit.WithLogger(logger),
		audit.WithMonitor(audit.NewMonitor(alertLogger(logger),
			audit.WithLoginFailureThreshold(serverOpts.loginAlertFailures, audit.DefaultLoginFailureWindow),
			audit.WithRevealThreshold(serverOpts.revealAlertCount, audit.DefaultRevealWindow),
		)),
	}
	if serverOpts.webhookURL != "" {
		hook := audit.NewWebhook(serverOpts.webhookURL,
			audit.WithWebhookHeader(serverOpts.webhookHeader),
			audit.WithWebhookLogger(logger),
		)
		defer hook.Close()
		auditOpts = append(auditOpts, audit.WithSink(hook))
	}
	auditor := audit.New(audit.NewRepositoryStore(repo), auditOpts...)

	vm := vault.NewManager(repo, sessions,
		vault.WithLogger(logger),
		vault.WithAuditor(auditor),
		vault.WithIdleTimeout(serverOpts.vaultIdle),
		vault.WithKDFParams(params),
	)
	authn, err := auth.New(auth.NewUserStore(repo), sessions, appKey,
		auth.WithLogger(logger),
		auth.WithAuditor(auditor),
		auth.WithVault(vm),
		auth.WithSessionTTL(serverOpts.sessionTTL),
		auth.WithMaxSecondFactorAttempts(serverOpts.maxSecondFactor),
		auth.WithPasswordParams(params),
	)
	if err != nil {
		return err
	}
	defer authn.Close()

	a := api.New(authn, vm,
		api.WithLogger(logger),
		api.WithAuditor(auditor),
		api.WithTrustedProxies(proxies),
		api.WithSecureCookies(true),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Mount("/api/v1", a.Router())

	tlsConfig, err := serverTLSConfig(logger)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", serverOpts.port),
		Handler:           r,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepLoop(sweepCtx, logger, a, vm, sessions)

	done := make(chan error, 1)
	go func() {
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner()
	logger.Info("server starting", "port", serverOpts.port, "storage", cfg.storage, "data_dir", cfg.dataDir)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		vm.LockAll(shutdownCtx)
		if err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		vm.LockAll(context.Background())
		return err
	}
}

// sweeper is implemented by session stores that can drop expired records.
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// openSessionStore keeps sessions in process for memory storage and sealed
// in the repository otherwise.
func openSessionStore(repo storage.Repository, appKey []byte) (session.Store, func(), error) {
	opts := []session.Option{session.WithIdleTimeout(serverOpts.sessionIdle)}
	if cfg.storage == storageMemory {
		return session.NewMemoryStore(opts...), func() {}, nil
	}
	key, err := auth.DeriveSubkey(appKey, auth.PurposeSessionStore)
	if err != nil {
		return nil, nil, err
	}
	store, err := session.NewPersistentStore(repo, key, opts...)
	util.WipeBytes(key)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store: %w", err)
	}
	return store, store.Close, nil
}

func sweepLoop(ctx context.Context, logger *slog.Logger, a *api.API, vm *vault.Manager, sessions session.Store) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.SweepRateLimits()
			if n := vm.Sweep(ctx); n > 0 {
				logger.Debug("stale vault keys wiped", "count", n)
			}
			if s, ok := sessions.(sweeper); ok {
				n, err := s.Sweep(ctx)
				if err != nil {
					logger.Warn("session sweep failed", "error", err)
				} else if n > 0 {
					logger.Debug("expired sessions removed", "count", n)
				}
			}
		}
	}
}

func alertLogger(logger *slog.Logger) audit.AlertFunc {
	return func(ev audit.AlertEvent) {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "security alert",
			slog.String("type", string(ev.Type)),
			slog.String("user_id", ev.UserID),
			slog.Int("count", ev.Count),
		)
	}
}

func serverTLSConfig(logger *slog.Logger) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if serverOpts.tlsCert != "" && serverOpts.tlsKey != "" {
		cert, err = tls.LoadX509KeyPair(serverOpts.tlsCert, serverOpts.tlsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		logger.Warn("using a self-signed certificate generated at startup")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
