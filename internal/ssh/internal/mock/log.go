package mock

import "log/slog"

// log receives the server's diagnostics. It is silent unless a test opts in
// with 'SetLogger'.
var log = slog.New(slog.DiscardHandler)

func SetLogger(l *slog.Logger) {
	log = l
}
