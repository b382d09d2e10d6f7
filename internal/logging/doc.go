// Package logging provides the engine's structured logging, a thin
// wrapper over zerolog with per-component child loggers.
package logging
