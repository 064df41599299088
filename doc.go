// Package loggo provides a structured logging engine with severity filtering,
// fan-out to independent routes, depth-bounded field serialization, caller
// capture and rotating file output that stays safe under live reconfiguration.
//
// Features:
//   - Six fixed levels (Trace, Debug, Info, Warning, Error, Exception)
//   - Ordered, nested key/value fields with a depth bound
//   - Text and JSON formatters with optional ANSI styling
//   - Stream writers and rotating file writers (size, day, week, month)
//   - Bounded backup retention with background gzip compression
//   - Caller scope or traceback injection per call
//   - Atomic reconfiguration without dropping in-flight records
//   - YAML/JSON/env configuration with file watching
//   - Prometheus counters for errors, records, rotations and reloads
//
// Records flow Manager -> Core -> Route -> Formatter -> Writer. A Core is
// immutable; changing the configuration means building a new Core and handing
// it to Manager.Reconfigure.
package loggo
