package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/auth"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/session"
	"github.com/jmcleod/opsvault/storage"
	"github.com/jmcleod/opsvault/vault"
)

// offlineApp wires the components an administrative command needs against
// the configured storage, without an HTTP server.
type offlineApp struct {
	repo    storage.Repository
	audits  *audit.RepositoryStore
	auditor *audit.Auditor
	logger  *slog.Logger
	authn   *auth.Authenticator
	vault   *vault.Manager
}

// cliActor is recorded as the actor of changes made from the command line.
const cliActor = "cli"

// openOffline opens storage and, when withAuth is set, an Authenticator
// that needs the application key.
func openOffline(ctx context.Context, logOut io.Writer, withAuth bool) (*offlineApp, error) {
	logger, err := cfg.newLogger(logOut)
	if err != nil {
		return nil, err
	}
	params, err := cfg.kdfParams()
	if err != nil {
		return nil, err
	}
	repo, err := cfg.openRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	app := &offlineApp{repo: repo, logger: logger, audits: audit.NewRepositoryStore(repo)}
	app.auditor = audit.New(app.audits, audit.WithLogger(logger))

	sessions := session.NewMemoryStore()
	app.vault = vault.NewManager(repo, sessions,
		vault.WithLogger(logger),
		vault.WithAuditor(app.auditor),
		vault.WithKDFParams(params),
	)
	if !withAuth {
		return app, nil
	}

	appKey, err := cfg.loadAppKey()
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	defer util.WipeBytes(appKey)
	app.authn, err = auth.New(auth.NewUserStore(repo), sessions, appKey,
		auth.WithLogger(logger),
		auth.WithAuditor(app.auditor),
		auth.WithVault(app.vault),
		auth.WithPasswordParams(params),
	)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return app, nil
}

func (a *offlineApp) Close() {
	if a.authn != nil {
		a.authn.Close()
	}
	_ = a.repo.Close()
}
