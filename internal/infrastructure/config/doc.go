// Package config loads service settings from environment variables.
package config
