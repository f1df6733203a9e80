// Package logx is a small structured logging layer over zerolog.
//
// A Service owns the sinks (console, optional JSON file) and can be
// reconfigured while Loggers derived from it are in use. The zero Logger
// discards everything, so libraries log unconditionally.
package logx
