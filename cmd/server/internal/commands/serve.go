package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"keygate/internal/alert"
	"keygate/internal/auth"
	"keygate/internal/config"
	"keygate/internal/constants"
	"keygate/internal/security"
	"keygate/internal/server"
	"keygate/internal/store"
	"keygate/internal/telemetry"
)

type ServeCmd struct {
	Gate   config.GateFlags  `embed:""`
	Store  config.StoreFlags `embed:""`
	Alerts config.AlertFlags `embed:""`
	HTTP   config.HTTPFlags  `embed:""`
}

func (c *ServeCmd) Validate() error {
	return errors.Join(
		c.Gate.Validate(),
		c.Store.Validate(),
		c.Alerts.Validate(),
		c.HTTP.Validate(),
	)
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log, err := globals.logger()
	if err != nil {
		return err
	}
	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting keygate")

	if err := c.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, c.Store.Options(), log)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer st.Close()

	metrics := telemetry.New()

	sink, closers, err := c.alertSink(log)
	if err != nil {
		return err
	}
	defer func() {
		for _, cl := range closers {
			cl.Close()
		}
	}()
	dispatcher := alert.NewDispatcher(sink, log,
		alert.WithQueueSize(c.Alerts.AlertQueue),
		alert.WithTimeout(c.Alerts.AlertTimeout),
		alert.WithResultHook(func(r alert.Result) { metrics.AlertResult(string(r)) }),
	)

	limiter := security.NewRequestLimiter(c.Gate.RateLimit, c.Gate.RateWindow)
	defer limiter.Close()
	conns := security.NewConnectionLimiter(c.Gate.MaxConnections, c.Gate.MaxConnectionsPerIP)
	metrics.WatchAddresses(conns.Addresses, limiter.Tracked)

	authn := auth.New(st, limiter, dispatcher, log, auth.WithMaxMessageSize(c.Gate.MaxMessageSize))

	proxies, err := c.HTTP.Proxies()
	if err != nil {
		return err
	}
	srv := server.New(authn, conns, log,
		server.WithIdleTimeout(c.Gate.IdleTimeout),
		server.WithMetrics(metrics),
		server.WithTrustedProxies(proxies),
	)

	ln, err := net.Listen("tcp", c.Gate.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Gate.Listen, err)
	}

	var (
		httpSrv *http.Server
		httpLn  net.Listener
	)
	if c.HTTP.HTTPListen != "" {
		httpLn, err = net.Listen("tcp", c.HTTP.HTTPListen)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", c.HTTP.HTTPListen, err)
		}
		httpSrv = srv.NewHTTPServer(c.HTTP.HTTPListen)
		log.Info().Str("addr", httpLn.Addr().String()).Msg("serving websocket, health and metrics")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ln)
	})

	if httpSrv != nil {
		g.Go(func() error {
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("session drain: %w", err))
		}
		if httpSrv != nil {
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("alert drain: %w", err))
		}
		if n := dispatcher.Dropped(); n > 0 {
			log.Warn().Uint64("dropped", n).Msg("security notices dropped")
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Stopped with errors")
		return err
	}
	log.Info().Msg("Stopped")
	return nil
}

// alertSink builds the fan-out of every configured notice destination.
// The returned closers belong to the caller.
func (c *ServeCmd) alertSink(log zerolog.Logger) (alert.Sink, []io.Closer, error) {
	var (
		sinks   alert.Multi
		closers []io.Closer
	)
	if c.Alerts.LogAlerts {
		sinks = append(sinks, alert.NewLogSink(log))
	}
	if c.Alerts.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhook(c.Alerts.WebhookURL,
			alert.WithRateLimit(c.Alerts.WebhookPerMinute, 5),
		))
	} else {
		log.Warn().Msg("no webhook configured, security notices stay local")
	}
	if c.Alerts.AuditDir != "" {
		audit, err := alert.OpenAuditSink(c.Alerts.AuditDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sinks = append(sinks, audit)
		closers = append(closers, audit)
	}
	return sinks, closers, nil
}
