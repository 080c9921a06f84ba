// Package logx configures bumpbot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - the optional file sink is JSON
//   - the optional chat sink forwards WARN+ lines to an operator chat (rate limited)
package logx
