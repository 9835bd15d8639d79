// Package config loads the runtime configuration and entity prototypes from
// YAML files. Prototype files are validated against an embedded JSON Schema
// before they are decoded.
package config
