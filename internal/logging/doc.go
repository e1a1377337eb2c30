// Package logging provides module-scoped structured loggers built on slog.
//
// Each subsystem obtains its logger with GetLogger("module"); the returned
// logger carries a "module" attribute and its level can be configured
// per-module via the logging config section. Records fan out to stdout
// (text or JSON), the systemd journal when running under systemd, and an
// in-memory ring buffer that backs the /api/logs endpoint.
//
// GetLogger may be called before Initialize; loggers created early are
// re-wired with the configured handler chain once Initialize runs.
package logging
