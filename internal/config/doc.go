// Package config loads, validates, and defaults the cardiolink TOML
// configuration file.
package config
