// Command server runs the request guard in front of the protected API.
//
// Usage:
//
//	server                           start the HTTP server (same as "serve")
//	server sweep                     delete expired sessions once
//	server session issue --user U    issue a session token for U
//	server session list --user U
//	server session revoke --user U
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jjsmithok/security-platform/internal/adapters/http/router"
	"github.com/jjsmithok/security-platform/internal/config"
	"github.com/jjsmithok/security-platform/internal/observability"
)

type CLI struct {
	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the HTTP server."`
	Sweep   SweepCmd   `cmd:"" help:"Delete expired sessions once and exit."`
	Session SessionCmd `cmd:"" help:"Manage sessions."`

	LogLevel  string `help:"Override LOG_LEVEL."`
	LogFormat string `help:"Override LOG_FORMAT (json, console)."`
}

// runContext is handed to every command's Run method.
type runContext struct {
	cfg    config.Config
	logger *zap.Logger
}

type ServeCmd struct{}

func (c *ServeCmd) Run(rc *runContext) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rc.cfg, rc.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	guard, err := a.Guard(ctx)
	if err != nil {
		return err
	}
	sessions, err := a.Sessions(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", rc.cfg.Server.Port),
		Handler: router.New(router.Deps{
			Guard:        guard,
			Sessions:     sessions,
			Metrics:      a.metrics.Handler(),
			Logger:       rc.logger,
			MaxBodyBytes: rc.cfg.Server.MaxBodyBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rc.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		rc.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rc.logger.Warn("graceful shutdown failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return sessions.RunSweeper(gctx, rc.cfg.Session.SweepInterval)
	})
	if a.memCounters != nil {
		g.Go(func() error {
			a.runCounterJanitor(gctx, rc.cfg.RateLimiter.DefaultRule.Window)
			return nil
		})
	}

	return g.Wait()
}

type SweepCmd struct{}

func (c *SweepCmd) Run(rc *runContext) error {
	ctx := context.Background()
	a, err := newApp(ctx, rc.cfg, rc.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.Sessions(ctx)
	if err != nil {
		return err
	}
	n, err := sessions.Cleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d expired sessions\n", n)
	return nil
}

type SessionCmd struct {
	Issue  SessionIssueCmd  `cmd:"" help:"Issue a session token."`
	List   SessionListCmd   `cmd:"" help:"List a user's sessions, newest first."`
	Revoke SessionRevokeCmd `cmd:"" help:"Invalidate every session of a user."`
}

type SessionIssueCmd struct {
	User string        `required:"" help:"User id the session belongs to."`
	TTL  time.Duration `name:"ttl" help:"Session lifetime (0 = SESSION_DEFAULT_TTL)."`
}

func (c *SessionIssueCmd) Run(rc *runContext) error {
	ctx := context.Background()
	a, err := newApp(ctx, rc.cfg, rc.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.Sessions(ctx)
	if err != nil {
		return err
	}
	s, err := sessions.Create(ctx, c.User, c.TTL)
	if err != nil {
		return err
	}
	fmt.Printf("session %s for %s expires %s\n%s\n", s.ID, s.UserID, s.ExpiresAt.Format(time.RFC3339), s.Token)
	return nil
}

type SessionListCmd struct {
	User string `required:"" help:"User id."`
}

func (c *SessionListCmd) Run(rc *runContext) error {
	ctx := context.Background()
	a, err := newApp(ctx, rc.cfg, rc.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.Sessions(ctx)
	if err != nil {
		return err
	}
	list, err := sessions.UserSessions(ctx, c.User)
	if err != nil {
		return err
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tEXPIRES\tSTATE")
	for _, s := range list {
		state := "active"
		if !s.ActiveAt(now) {
			state = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.CreatedAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339), state)
	}
	return w.Flush()
}

type SessionRevokeCmd struct {
	User string `required:"" help:"User id."`
}

func (c *SessionRevokeCmd) Run(rc *runContext) error {
	ctx := context.Background()
	a, err := newApp(ctx, rc.cfg, rc.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.Sessions(ctx)
	if err != nil {
		return err
	}
	if err := sessions.InvalidateAll(ctx, c.User); err != nil {
		return err
	}
	fmt.Printf("revoked sessions of %s\n", c.User)
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("server"),
		kong.Description("Request guard: rate limiting, risk scoring and sessions."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	err = kctx.Run(&runContext{cfg: cfg, logger: logger})
	kctx.FatalIfErrorf(err)
}
