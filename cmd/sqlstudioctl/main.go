package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sqlstudio/sqlstudio/internal/cli/sqlstudioctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	options := sqlstudioctl.Options{
		BaseURL:    envOr("SQLSTUDIO_API_URL", "http://localhost:8080"),
		APIKey:     strings.TrimSpace(os.Getenv("SQLSTUDIO_API_KEY")),
		Connection: strings.TrimSpace(os.Getenv("SQLSTUDIO_CONNECTION")),
		Timeout:    parseDurationWithDefault("SQLSTUDIO_CLI_TIMEOUT", 10*time.Second),
		RunTimeout: parseDurationWithDefault("SQLSTUDIO_CLI_RUN_TIMEOUT", 5*time.Minute),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}

	code := sqlstudioctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid %s %q; using %s\n", key, raw, fallback)
		return fallback
	}
	return parsed
}
