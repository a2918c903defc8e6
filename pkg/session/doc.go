/*
Package session hosts many guest runtimes behind a snapshot store.

A session is one persisted runtime. Every operation on a session loads its
snapshot, works on the restored runtime and saves the result, all while
holding the session's lock: an in-process mutex, plus an optional
DistributedLocker when several replicas share the store. Between operations
no runtime is kept in memory.
*/
package session
