package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/meszmate/xmppgate/internal/bot"
	"github.com/meszmate/xmppgate/internal/config"
	"github.com/meszmate/xmppgate/internal/logging"
	"github.com/meszmate/xmppgate/internal/secret"
	"github.com/meszmate/xmppgate/internal/storage/sqlite"
	"github.com/meszmate/xmppgate/pkg/dispatch"
)

func main() {
	configPath := flag.String("config", "xmppgate.toml", "path to configuration file")
	encrypt := flag.Bool("encrypt", false, "read a password from stdin, print the armored ciphertext, and exit")
	keyFile := flag.String("key-file", "", "key file for -encrypt")
	flag.Parse()

	if *encrypt {
		if err := encryptPassword(*keyFile); err != nil {
			log.Fatalf("Failed to encrypt: %v", err)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Accounts) == 0 {
		log.Fatalf("No accounts configured in %s", *configPath)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()

	store, err := sqlite.New(cfg.General.DataDir)
	if err != nil {
		logger.Error("failed to open database: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// Without a plugin configured, non-command traffic is dropped but
	// every built-in command still works.
	var deliverer dispatch.Deliverer = dispatch.Discard
	if cfg.Dispatch.Plugin != "" {
		host, err := dispatch.NewHost(cfg.Dispatch.Plugin)
		if err != nil {
			logger.Error("failed to start dispatch plugin: %v", err)
			os.Exit(1)
		}
		defer host.Close()
		deliverer = host
		logger.Info("dispatch plugin running: %s", cfg.Dispatch.Plugin)
	}

	supervisor := bot.NewSupervisor(cfg, logger, store, deliverer)
	if supervisor.StartAll() == 0 {
		logger.Error("no account could be started")
		os.Exit(1)
	}
	defer supervisor.StopAll()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("shutting down: %v", <-sig)
}

// encryptPassword reads a plaintext password from stdin and prints the
// armored ciphertext suitable for the password_encrypted config key.
func encryptPassword(keyFile string) error {
	if keyFile == "" {
		return fmt.Errorf("-key-file is required with -encrypt")
	}
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}

	var password string
	if _, err := fmt.Fscanln(os.Stdin, &password); err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	armored, err := secret.Encrypt(password, strings.TrimSpace(string(key)))
	if err != nil {
		return err
	}
	fmt.Println(armored)
	return nil
}
