package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/config"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/domain/certificate"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/keys"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ddcc-mediator",
		Short: "DDCC certificate mediator",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(verifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mediator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write a fresh P-256 signing key and public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			priv, _ := cmd.Flags().GetString("private")
			pub, _ := cmd.Flags().GetString("public")
			if priv == "" {
				priv = cfg.PrivateKeyFile
			}
			if pub == "" {
				pub = cfg.PublicKeyFile
			}

			m, err := keys.Generate()
			if err != nil {
				return err
			}
			if err := m.WritePEM(priv, pub); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s (kid %s)\n", priv, pub, m.KeyID)
			return nil
		},
	}
	cmd.Flags().String("private", "", "private key path (default PRIVATE_KEY_FILE)")
	cmd.Flags().String("public", "", "public key path (default PUBLIC_KEY_FILE)")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <document.json>",
		Short: "Check the signature of a DDCC document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			m, err := keys.Load(cfg.PrivateKeyFile, cfg.PublicKeyFile, newLogger(cfg))
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var doc map[string]interface{}
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			ok, err := certificate.NewVerifier(m.Public, nil).Verify(doc)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("signature does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature valid")
			return nil
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}
	return logger
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	if cfg.WaitForFHIR {
		if err := srv.repo.WaitReady(ctx, 5*time.Second); err != nil {
			logger.Fatal().Err(err).Msg("FHIR server unavailable")
		}
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("standalone", cfg.Standalone).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	srv.Close(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}
