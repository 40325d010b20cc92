// ABOUTME: Starter configuration rendering for `larder init`
// ABOUTME: Produces a commented YAML file that Load accepts unchanged

package config

import (
	"fmt"
	"strings"
)

// StarterOptions are the answers collected by `larder init`.
type StarterOptions struct {
	HTTPAddr     string
	BaseURL      string
	DatabasePath string
	TicketSecret string
	CORSOrigins  []string

	Tailscale bool
	Hostname  string
	AuthKey   string
	Ephemeral bool
	Funnel    bool

	LogLevel  string
	LogFormat string
}

// Starter renders a YAML configuration from opts.
func Starter(opts StarterOptions) string {
	var b strings.Builder
	b.WriteString("# larder configuration\n")
	b.WriteString("# Generated by larder init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", opts.HTTPAddr)
	if len(opts.CORSOrigins) > 0 {
		b.WriteString("  cors_origins:\n")
		for _, o := range opts.CORSOrigins {
			fmt.Fprintf(&b, "    - %q\n", o)
		}
	}
	b.WriteString("\n")

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", opts.DatabasePath)

	b.WriteString("webauthn:\n")
	if opts.BaseURL != "" {
		fmt.Fprintf(&b, "  base_url: %q\n", opts.BaseURL)
	}
	b.WriteString("  rp_name: \"Inventory App\"\n")
	b.WriteString("  verify_timeout: \"10s\"\n\n")

	b.WriteString("tailscale:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", opts.Tailscale)
	if opts.Tailscale {
		fmt.Fprintf(&b, "  hostname: %q\n", opts.Hostname)
		if opts.AuthKey != "" {
			fmt.Fprintf(&b, "  auth_key: %q\n", opts.AuthKey)
		}
		fmt.Fprintf(&b, "  ephemeral: %t\n", opts.Ephemeral)
		fmt.Fprintf(&b, "  funnel: %t\n", opts.Funnel)
	}
	b.WriteString("\n")

	b.WriteString("# Switch both backends to redis when running more than one instance.\n")
	b.WriteString("sessions:\n")
	b.WriteString("  backend: \"memory\"\n")
	b.WriteString("  max_age: \"168h\"\n\n")
	b.WriteString("challenges:\n")
	b.WriteString("  backend: \"memory\"\n")
	b.WriteString("  ttl: \"5m\"\n\n")
	b.WriteString("# redis:\n#   url: \"redis://localhost:6379/0\"\n\n")

	b.WriteString("sync:\n")
	fmt.Fprintf(&b, "  ticket_secret: %q\n", opts.TicketSecret)
	b.WriteString("  ticket_ttl: \"5m\"\n\n")

	b.WriteString("ratelimit:\n")
	b.WriteString("  ceremony_rps: 5\n")
	b.WriteString("  ceremony_burst: 10\n\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", orDefault(opts.LogLevel, "info"))
	fmt.Fprintf(&b, "  format: %q\n\n", orDefault(opts.LogFormat, "text"))

	b.WriteString("metrics:\n")
	b.WriteString("  enabled: false\n")
	b.WriteString("  path: \"/metrics\"\n")

	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
