// Package config loads tripsync configuration from YAML with ${VAR}
// environment expansion, applies defaults and validates the result.
package config
