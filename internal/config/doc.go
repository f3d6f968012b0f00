// Package config loads, normalizes, and validates reeler's TOML
// configuration. The Config type groups settings by subsystem; Load resolves
// the config path (flag, ~/.config/reeler/config.toml, or ./reeler.toml),
// applies defaults for missing values, expands ~ in paths, and rejects
// configurations the daemon cannot run with.
package config
