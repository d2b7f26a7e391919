// Package logger wraps zap for the generator:
//   - a global sugared logger with a console encoder on stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and a level-scoped zap option,
//   - shorthand functions (Info, InfoKV, ErrorKV and friends).
//
// Components accept a context and log through the logger it carries.
package logger
