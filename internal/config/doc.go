// Package config provides configuration loading and validation for the dictionary service.
// It handles YAML-based configuration layered over built-in defaults, with per-section
// validation; command-line arguments are applied on top by the server binary.
package config
