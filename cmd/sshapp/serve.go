package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/sshapp"
)

func runServe(f ServeFlags) error {
	if f.ConfigPath == "" {
		return errors.New("config file required for serve command. Use --config=sshapp.toml or provide as argument")
	}
	cfg, err := sshapp.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Daemonize {
		if !isDaemonSupported() {
			return errors.New("daemonize is not supported on this platform")
		}
		return daemonize(f.PidFile, f.LogFile)
	}

	lg := sshapp.NewLogger(cfg.Log)
	slog.SetDefault(lg)

	mgr, err := sshapp.FromConfig(cfg, lg)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		if err := sshapp.RegisterMetricsDefault(); err != nil {
			lg.Warn("failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			if metricsSrv, err = sshapp.ServeMetrics(cfg.Metrics.Listen); err != nil {
				_ = mgr.Close()
				return fmt.Errorf("metrics server: %w", err)
			}
			lg.Info("serving metrics", "addr", metricsSrv.Addr)
		}
	}

	tlsCfg, err := sshapp.ServerTLS(cfg.Server.TLS)
	if err != nil {
		_ = mgr.Close()
		return fmt.Errorf("tls: %w", err)
	}
	server, err := sshapp.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, mgr, tlsCfg)
	if err != nil {
		_ = mgr.Close()
		return fmt.Errorf("failed to create API server: %w", err)
	}
	protocol := "http"
	if tlsCfg != nil {
		protocol = "https"
	}
	lg.Info("serving status API", "url", fmt.Sprintf("%s://%s%s", protocol, server.Addr, cfg.Server.BasePath),
		"services", mgr.Names())

	shutdown := func() error {
		errs := []error{server.Close(), mgr.Close()}
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Close())
		}
		if f.PidFile != "" {
			errs = append(errs, removePidFile(f.PidFile))
		}
		return errors.Join(errs...)
	}
	if f.NonBlocking {
		return shutdown()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	lg.Info("shutting down")
	return shutdown()
}
