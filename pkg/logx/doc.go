// Package logx wraps zerolog behind a small Field/Logger API so components
// take a value Logger instead of a *zerolog.Logger, and so output sinks and
// levels can be swapped at runtime via Service.Apply without re-plumbing
// loggers through the app.
package logx
