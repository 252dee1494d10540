// Package manager owns the loaded model, its session pool and the open
// streams, and exposes the generation surface used by the HTTP server and the
// CLI. It is structured into small files by concern:
//
//   - manager.go: core Manager type, Initialize/Shutdown lifecycle, getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: lifecycle State and Snapshot.
//   - errors.go: error types and helpers (IsNotReady, IsRuntimeFailure, ...).
//   - policy.go: current policy and named profiles.
//   - generate.go: pooled batch generation.
//   - streams.go: registry of caller-owned streaming sessions.
//   - helpers.go: model lookup and API conversions.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: prometheus collectors for generation and streams.
//
// A Manager is constructed explicitly and injected; there is no package-level
// model or pool.
package manager
