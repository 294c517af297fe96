// Package logx configures tickcron's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Components decoupled from the concrete sink (Service.Apply swaps sinks live)
package logx
