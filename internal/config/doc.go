// Package config handles YAML configuration loading with environment variable substitution.
//
// A .env file next to the config (or in the working directory) is loaded
// first, then ${VAR} references in the YAML are expanded. The feeder and the
// persister share one schema; Validate checks the sections each role needs.
package config
