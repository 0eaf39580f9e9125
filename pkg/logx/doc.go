// Package logx configures ckbot's structured logging.
//
// It wraps zerolog behind a small value type (logx.Logger) so that:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON lines
//   - WARN+ lines can optionally be mirrored into a chat (rate limited)
package logx
