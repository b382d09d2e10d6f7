// Package config parses the two configuration surfaces the engine
// accepts: per-object config strings (used when creating a file, an
// LSM tree, or the metadata table itself) and an optional engine-wide
// YAML defaults file.
package config
