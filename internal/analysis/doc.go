// Package analysis defines the job aggregate, report types, and the narrow
// interfaces shared by the orchestrator, the stage services, and the storage
// backends.
package analysis
