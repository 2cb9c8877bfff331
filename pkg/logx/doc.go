// Package logx configures bgtask's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional bridge sink (min-level + rate limiting) so an embedding host
//     can surface warnings on its own UI, e.g. a status notification
package logx
