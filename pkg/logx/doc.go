// Package logx is a thin structured-logging layer over zerolog.
//
// Components receive a Logger value and derive scoped loggers with
// With(String("comp", ...)). The zero value is a safe no-op logger, so
// packages never need nil checks around logging.
package logx
