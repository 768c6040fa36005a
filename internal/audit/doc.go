// Package audit buffers security events and hands them to a [Sink].
//
// The Engine decides which events exist; this package only delivers them.
// [Dispatcher] relays from one goroutine with either drop-if-full or
// block-if-full semantics, and sinks are provided for channels, JSON lines
// and log/slog.
package audit
