// player-session: remote-controllable video playback sessions behind a local
// HTTP and WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"player-session/internal/artwork"
	"player-session/internal/config"
	"player-session/internal/engine"
	"player-session/internal/mpris"
	"player-session/internal/notification"
	"player-session/internal/server"
	"player-session/internal/session"
	"player-session/internal/spool"
	"player-session/internal/surface"
	"player-session/internal/system"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configFile string
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "player",
		Short:        "player-session: video playback sessions behind a local API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Setup(v, configFile); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return fmt.Errorf("flags: %w", err)
			}
			config.ApplyLogging(config.Load(v).Log)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")

	rootCmd.AddCommand(runCmd(v))
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(checkCmd(v))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd starts the HTTP API and, when configured, the spool watcher.
func runCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the session host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(v)
			config.Watch(v)
			log.Infof("player-session %s (built %s), backend %s", version, buildTime, engine.Backend())

			loader, err := newArtworkLoader(cfg.Artwork)
			if err != nil {
				return err
			}
			manager := session.NewManager(session.Deps{
				Engine:        engine.New,
				EngineOptions: engine.Options{Path: cfg.MPVPath},
				Targets:       surface.NewRegistry(cfg.ScreenWidth, cfg.ScreenHeight),
				Host:          notificationHost(cfg.Notifications),
				Loader:        loader,
				SeekIncrement: cfg.SeekIncrement,
			})

			// --- Spool ---
			if cfg.SpoolDir != "" {
				if err := system.EnsureDir(cfg.SpoolDir); err != nil {
					return fmt.Errorf("spool dir %s: %w", cfg.SpoolDir, err)
				}
				w, err := spool.NewWatcher(cfg.SpoolDir, manager)
				if err != nil {
					return fmt.Errorf("spool watcher: %w", err)
				}
				go func() {
					if err := w.Start(); err != nil {
						log.Errorf("[main] spool watcher: %v", err)
					}
				}()
				defer w.Stop()
			}

			// --- HTTP ---
			srv := server.NewServer(manager, server.WithHealth(func() any {
				return healthCheck(cfg)
			}))
			httpServer := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Infof("[main] listening on %s", cfg.ListenAddr)
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info("[main] shutting down")
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			// Disposing first ends every event stream, so open sockets close.
			if err := manager.DisposeAll(shutdownCtx); err != nil {
				log.Warnf("[main] dispose: %v", err)
			}
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warnf("[main] shutdown error: %v", err)
			}
			log.Info("[main] shutdown complete")
			return nil
		},
	}

	cmd.Flags().String("listen-addr", "127.0.0.1:7940", "Address of the HTTP API")
	cmd.Flags().String("spool-dir", "", "Directory of *.json session request files (disabled when empty)")
	cmd.Flags().Int("screen-width", 1920, "Screen width in pixels (for render target geometry)")
	cmd.Flags().Int("screen-height", 1080, "Screen height in pixels (for render target geometry)")
	cmd.Flags().String("mpv-path", "", "Path to the mpv binary (default: search PATH)")
	cmd.Flags().Bool("notifications", true, "Publish sessions with metadata as MPRIS players")
	cmd.Flags().Duration("seek-increment", 10*time.Second, "Fast-forward and rewind step")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("player-session %s\nBuilt: %s\nBackend: %s\n", version, buildTime, engine.Backend())
		},
	}
}

func checkCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the playback engine, session bus and disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := healthCheck(config.Load(v))
			fmt.Printf("Disk Usage      : %.1f%% (%s)\n", status.DiskUsedPct, status.DiskPath)
			fmt.Printf("Disk Free       : %d MB\n", status.DiskFreeBytes/1024/1024)
			for _, p := range status.Dependencies {
				mark := "ok"
				if !p.OK {
					mark = "FAIL"
				}
				fmt.Printf("%-16s: %-4s %s\n", p.Name, mark, p.Detail)
			}
			if !status.Healthy() {
				return errors.New("health check failed")
			}
			return nil
		},
	}
}

func healthCheck(cfg config.Config) system.HealthStatus {
	diskPath := cfg.SpoolDir
	if diskPath == "" {
		diskPath = cfg.Artwork.Dir
	}
	deps := []system.Dependency{{
		Name:  "engine",
		Check: func() (string, error) { return engine.Locate(cfg.MPVPath) },
	}}
	if cfg.Notifications {
		deps = append(deps, system.Dependency{
			Name: "session bus",
			Check: func() (string, error) {
				if err := mpris.Available(); err != nil {
					return "", err
				}
				return "reachable", nil
			},
		})
	}
	return system.RunHealthCheck(diskPath, deps...)
}

// notificationHost returns the MPRIS host when notifications are enabled
// and a session bus is reachable.
func notificationHost(enabled bool) notification.Host {
	if !enabled {
		return nil
	}
	if err := mpris.Available(); err != nil {
		log.Warnf("[main] notifications disabled: %v", err)
		return nil
	}
	return mpris.Host{}
}

func newArtworkLoader(c config.Artwork) (*artwork.Loader, error) {
	if err := system.EnsureDir(c.Dir); err != nil {
		return nil, fmt.Errorf("artwork dir %s: %w", c.Dir, err)
	}
	if n, err := system.CleanOldFiles(c.Dir, c.MaxAge); err != nil {
		log.Warnf("[main] artwork cleanup: %v", err)
	} else if n > 0 {
		log.Infof("[main] removed %d stale artwork files", n)
	}
	return artwork.NewLoader(artwork.Options{
		Timeout: c.Timeout,
		Rate:    rate.Limit(c.Rate),
		Burst:   c.Burst,
		Dir:     c.Dir,
	}), nil
}
