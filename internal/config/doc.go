// Package config handles configuration loading for larder.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from LARDER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/larder/larder.yaml
//  3. ~/.config/larder/larder.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML. Both
// formats use the same keys.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	sync:
//	  ticket_secret: "${LARDER_TICKET_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax:
//
//	sessions:
//	  max_age: "168h"
//	challenges:
//	  ttl: "5m"
//
// # Backends
//
// sessions.backend and challenges.backend are "memory" (single process) or
// "redis" (shared across instances, requires redis.url).
package config
