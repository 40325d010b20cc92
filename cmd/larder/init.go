// ABOUTME: Interactive `larder init` command
// ABOUTME: Prompts for deployment settings and writes a starter config with a fresh ticket secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/larder/internal/config"
)

// getDataPath returns the larder data directory.
// Priority: XDG_DATA_HOME/larder > ~/.local/share/larder
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "larder")
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	ask := func(question, defaultVal string) string {
		return prompt(reader, out, question, defaultVal)
	}

	fmt.Fprintln(out, "larder configuration setup")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintln(out)

	outputFile := ask("Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(ask("File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	opts := config.StarterOptions{
		HTTPAddr: ask("HTTP address", "localhost:8080"),
		BaseURL:  ask("Public base URL (used for passkeys)", "http://localhost:8080"),
	}
	if origin := ask("Web app origin allowed for CORS (empty for none)", ""); origin != "" {
		opts.CORSOrigins = []string{origin}
	}

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	opts.DatabasePath = ask("SQLite database path", filepath.Join(getDataPath(), "larder.db"))

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	opts.Tailscale = yes(ask("Enable Tailscale?", "no"))
	if opts.Tailscale {
		opts.Hostname = ask("Tailscale hostname", "larder")
		opts.AuthKey = ask("Tailscale auth key (leave empty for interactive)", "")
		opts.Ephemeral = yes(ask("Ephemeral node?", "no"))
		opts.Funnel = yes(ask("Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	opts.LogLevel = ask("Log level (debug/info/warn/error)", "info")
	opts.LogFormat = ask("Log format (text/json)", "text")

	secret, err := newTicketSecret()
	if err != nil {
		return err
	}
	opts.TicketSecret = secret

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the ticket secret.
	if err := os.WriteFile(outputFile, []byte(config.Starter(opts)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(opts.DatabasePath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  larder serve")
	return nil
}

func newTicketSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating ticket secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
