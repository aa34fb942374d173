// Command coursera-mcp serves read-only Coursera tools over the Model
// Context Protocol, on stdio or HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anshpay/CourseraMCP-Poke/internal/config"
	"github.com/anshpay/CourseraMCP-Poke/internal/mcpserver"
	"github.com/anshpay/CourseraMCP-Poke/internal/metadata"
	"github.com/anshpay/CourseraMCP-Poke/internal/tools"
)

const (
	exitConfigError = 2
	exitFatal       = 1
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:     "coursera-mcp",
	Short:   "MCP server exposing read-only Coursera course tools",
	Long:    "coursera-mcp adapts Coursera's private API (and, where needed, rendered course pages) into a fixed set of read-only MCP tools: enrollments, course material trees, lecture/reading/assignment content, progress, search and deadlines.",
	Version: metadata.Version,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVar(&envFiles, "env-file", nil,
		"env file(s) to load; earlier files win, the process environment always wins")
	rootCmd.AddCommand(newStdioCommand())
	rootCmd.AddCommand(newHTTPCommand())
}

func loadConfig() *config.Config {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfigError)
	}
	return cfg
}

func newStdioCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve a single session over stdin/stdout",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			// stdout carries the protocol; all logging goes to stderr.
			logger := log.New(os.Stderr, "coursera-mcp ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dispatcher := mcpserver.NewDispatcher(tools.Factory(cfg), logger)
			server := mcpserver.NewStdioServer(dispatcher, os.Stdin, os.Stdout, logger)

			err := server.Run(ctx)
			dispatcher.Shutdown()
			if err != nil {
				logger.Printf("stdio serve error: %v", err)
				os.Exit(exitFatal)
			}
		},
	}
}

func newHTTPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "http",
		Short: "Serve concurrent sessions over a streamable HTTP endpoint",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			logger := log.New(os.Stderr, "coursera-mcp ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dispatcher := mcpserver.NewDispatcher(tools.Factory(cfg), logger)
			handler := mcpserver.NewHTTPServer(dispatcher, cfg.APIKey, logger)

			srv := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Printf("listening on http://%s/mcp", cfg.Addr())
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Printf("serve error: %v", err)
					dispatcher.Shutdown()
					os.Exit(exitFatal)
				}
			case <-ctx.Done():
				logger.Printf("shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}

			dispatcher.Shutdown()
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}
