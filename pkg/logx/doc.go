// Package logx is the structured-logging facade for the daemon.
//
// A Service owns the root zerolog logger and can rebuild it at runtime
// (config hot reload). Sinks: human-readable console, JSON file, and an
// optional Telegram chat for warnings and errors, rate-limited so a
// failure loop cannot flood the operator.
//
// Components log through Logger values tagged with comp=<name>; the tag
// survives root swaps.
package logx
