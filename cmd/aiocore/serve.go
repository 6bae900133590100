package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aio-downloader/aiocore/internal/config"
	"github.com/aio-downloader/aiocore/internal/lock"
	"github.com/aio-downloader/aiocore/internal/logging"
	"github.com/aio-downloader/aiocore/internal/manager"
	"github.com/aio-downloader/aiocore/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the aiocore daemon in this process",
	Long:  "serve acquires the single-instance lock, loads settings, and runs the scheduler and HTTP control surface until interrupted.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "port to bind the control surface to (0 = auto-discover starting at 7777)")
	serveCmd.Flags().Bool("verbose", false, "also log to stderr")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("preparing directories: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := logging.Init(verbose)

	appDir, err := config.GetAppDir()
	if err != nil {
		return fmt.Errorf("resolving app directory: %w", err)
	}
	instanceLock, isMaster, err := lock.Acquire(appDir)
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !isMaster {
		return fmt.Errorf("aiocore is already running; use 'aiocore add <url>' to talk to it")
	}
	defer instanceLock.Release()

	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	privateDir, err := config.GetPrivateDir()
	if err != nil {
		return fmt.Errorf("resolving private directory: %w", err)
	}
	mgr, err := manager.New(privateDir, settings)
	if err != nil {
		return fmt.Errorf("constructing manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("hydrating manager: %w", err)
	}
	go mgr.Run(ctx)

	portFlag, _ := cmd.Flags().GetInt("port")
	port, listener := bindPort(portFlag)
	if listener == nil {
		return fmt.Errorf("could not bind a port for the control surface")
	}
	if err := savePortFile(port); err != nil {
		logger.Warn().Err(err).Msg("failed to persist port file")
	}
	defer removePortFile()

	handler := server.New(mgr, settings)
	httpServer := &http.Server{Handler: handler}

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("control surface stopped")
		}
	}()

	logger.Info().Int("port", port).Msg("aiocore daemon listening")
	fmt.Printf("aiocore daemon listening on port %d\n", port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	return mgr.Shutdown(shutdownCtx)
}

func bindPort(requested int) (int, net.Listener) {
	if requested > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", requested))
		if err != nil {
			return 0, nil
		}
		return requested, ln
	}
	for port := defaultPortBase; port < defaultPortBase+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}
