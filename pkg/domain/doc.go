/*
Package domain contains the core vocabulary shared by the tickvm runtime, its
guest protocol and its host adapters.

It is kept pure and free of I/O so that every other layer (the machine, the
dispatch channel, persistence adapters, the HTTP surface) can depend on it
without pulling in each other.

# Key Entities

  - WaitReason: Why a guest task suspended (Startup, Present or Request).
  - Request / Response: The closed set of messages exchanged over the dispatch channel.
  - Call: A host-bound effect (Draw, Play, Exit) collected during a tick.
  - Transform: Position, scale and rotation of a drawn asset.
  - LoadError, TickError, ProtocolError, PreconditionError: The typed failures of the runtime.
*/
package domain
