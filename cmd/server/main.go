package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/chatduel/internal/chat"
	"github.com/DoyleJ11/chatduel/internal/config"
	"github.com/DoyleJ11/chatduel/internal/httpapi"
	"github.com/DoyleJ11/chatduel/internal/hub"
	"github.com/DoyleJ11/chatduel/internal/lobby"
	"github.com/DoyleJ11/chatduel/internal/logging"
	"github.com/DoyleJ11/chatduel/internal/rendezvous"
	"github.com/DoyleJ11/chatduel/internal/store"
)

const shutdownGrace = 5 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "chatduel"
	app.Usage = "line-protocol chat server with rock-paper-scissors and file relay"
	app.Version = config.Default().Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "TOML config file"},
		cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file, skipped when missing"},
		cli.StringFlag{Name: "chat-addr", Usage: "chat listener address"},
		cli.StringFlag{Name: "file-addr", Usage: "file transfer listener address"},
		cli.StringFlag{Name: "http-addr", Usage: "admin API and WebSocket address, empty disables"},
		cli.StringFlag{Name: "database-url", Usage: "PostgreSQL DSN for match history"},
		cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		cli.StringFlag{Name: "log-format", Usage: "json or console"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.LoadEnv(c.String("env-file")); err != nil {
		return cfg, err
	}

	overrides := map[string]*string{
		"chat-addr":    &cfg.ChatAddr,
		"file-addr":    &cfg.FileAddr,
		"http-addr":    &cfg.HTTPAddr,
		"database-url": &cfg.DatabaseURL,
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
	}
	for flag, dst := range overrides {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	history, err := store.Open(cfg.DatabaseURL, log.Named("store"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, history.Close()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(log.Named("hub"))
	games := lobby.NewCoordinator(ctx, lobby.Config{
		MoveTimeout: cfg.MoveTimeout.Duration,
		Lookup:      chat.Lookup(h),
		Recorder:    history,
		Logger:      log.Named("lobby"),
	})
	defer games.Stop()

	chatSrv := chat.NewServer(chat.Config{
		Version:      cfg.Version,
		WriteTimeout: cfg.WriteTimeout.Duration,
		PingInterval: cfg.PingInterval.Duration,
		PongTimeout:  cfg.PongTimeout.Duration,
	}, h, games, log.Named("chat"))

	relay := rendezvous.New(rendezvous.Config{
		HandshakeTimeout: cfg.HandshakeTimeout.Duration,
		WaitTimeout:      cfg.RendezvousWait.Duration,
		Logger:           log.Named("rendezvous"),
	})

	chatLn, err := net.Listen("tcp", cfg.ChatAddr)
	if err != nil {
		return fmt.Errorf("chat listener: %w", err)
	}
	fileLn, err := net.Listen("tcp", cfg.FileAddr)
	if err != nil {
		return multierr.Append(fmt.Errorf("file listener: %w", err), chatLn.Close())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return chatSrv.Serve(gctx, chatLn) })
	g.Go(func() error { return relay.Serve(gctx, fileLn) })

	if cfg.HTTPAddr != "" {
		httpSrv := &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: httpapi.SetupRoutes(httpapi.Deps{
				Hub:       h,
				Games:     games,
				History:   history,
				Chat:      chatSrv,
				WSOrigins: cfg.WSOrigins,
				Logger:    log.Named("http"),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return httpSrv.Shutdown(sctx)
		})
	}

	log.Info("server started", zap.String("version", cfg.Version))
	err = g.Wait()
	log.Info("server stopped", zap.Error(err))
	return err
}
