// Package logx is meetsync's zerolog wrapper. Loggers are values tagged with
// Component; the Service behind them can switch level and sinks at runtime.
package logx
