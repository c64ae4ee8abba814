// Package manager owns the generative pipeline runtime for the life of the
// process. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults.
//   - types.go: state, faces, handles and the runtime request shapes.
//   - errors.go: busy and runtime error types and helpers.
//   - ensure.go: GetOrLoadBundle, the one-time bundle load and device fallback.
//   - bundle.go: the loaded Bundle and its stage operations.
//   - admission.go: the single-slot accelerator lock.
//   - runtime.go: the Runtime interface the pipeline is reached through.
//   - runtime_subprocess.go: the pipeline server subprocess implementation.
//   - status_report.go, sanity.go: Status snapshot and binary checks.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
//
// The bundle is loaded at most once. A failed load is sticky: the process is
// expected to be restarted by its platform.
package manager
