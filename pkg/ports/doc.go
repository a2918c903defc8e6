/*
Package ports defines the driven ports (interfaces) of the tickvm session layer.

These interfaces decouple sessions from external implementations, so the
same manager can keep snapshots in memory, on disk, in SQLite or in Redis.

# Key Interfaces

  - SnapshotStore: persists and loads serialized runtimes by session ID.
  - DistributedLocker: serializes ticks on one session across replicas.
*/
package ports
