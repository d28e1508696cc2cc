// Package config loads the service configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML
// file, environment variables. Environment overrides make the same
// binary deployable across environments without editing files.
package config
