// Package config loads, normalizes, and validates montage configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MONTAGE_FFMPEG, MONTAGE_SEED and MONTAGE_NTFY_TOPIC. The Config type centralizes the catalog,
// task sheet, and ledger locations together with the normalization profile
// so a composition run discovers everything it needs in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
