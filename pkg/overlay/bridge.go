package overlay

import "context"

// SnapshotWriter accepts terminal presence snapshots for durable write-through
// when an identity fully disconnects. Writes are best-effort: the Hub invokes
// them on a detached goroutine and only logs failures, so an implementation
// may block on I/O but must honor the context deadline.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, snap Snapshot) error
}

// NopSnapshotWriter discards snapshots. Used when no store is configured and
// in tests.
type NopSnapshotWriter struct{}

func (NopSnapshotWriter) WriteSnapshot(context.Context, Snapshot) error { return nil }
