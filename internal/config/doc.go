// Package config loads, normalizes, and validates stepdeck configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STEPDECK_PIPELINE_URL. The Config type centralizes the pipeline endpoint,
// polling cadence, monitoring modes, notification settings and predefined
// sequences so the CLI resolves everything in one pass.
package config
