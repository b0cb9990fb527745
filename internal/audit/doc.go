// Package audit delivers security events to a pluggable Sink off the request path.
//
// Sinks: [ChannelSink], [JSONWriterSink], [LoggerSink] (zap) and [NoOpSink].
// The [Dispatcher] buffers events, drops credential-named metadata and counts
// events it had to drop. Which events exist is decided by the engine.
package audit
