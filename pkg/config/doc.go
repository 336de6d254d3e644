/*
Package config loads cargohold's runtime configuration.

Settings are layered, each layer overriding the one before it:

  1. Compile-time defaults (Default())
  2. A TOML config file, parsed with github.com/pelletier/go-toml/v2
  3. Environment variables prefixed CARGOHOLD_, using "__" to separate
     nested fields (CARGOHOLD_REGISTRY__DATA_DIR, CARGOHOLD_S3__ENABLED)
  4. Command-line flags bound by cmd/cargohold, which take precedence
     over everything else

This mirrors the layering the registry this was adapted from uses
(file, then environment, then explicit overrides), reimplemented with
TOML instead of a generic multi-format config crate since cargohold only
ever ships one file format.
*/
package config
