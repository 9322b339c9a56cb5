// Package streammgr owns one persistent outbound stream per destination key.
//
// The Manager maps destination keys to slots. Each slot runs a small state
// machine (Empty -> Creating -> Ready <-> Failed, then Draining -> Closed on
// shutdown) with single-flight creation: concurrent callers on a cold or
// failed slot share one open attempt instead of racing their own. Durable
// submits register with the slot's AckTracker before the record reaches the
// transport; acknowledgments are tagged with the stream generation so a
// callback from a superseded stream can never satisfy a waiter on its
// successor.
//
// Within a slot, records reach the transport in submission order. Across
// slots there is no ordering relationship. Every blocking wait (creation,
// durable ack, drain) is bounded by a timeout; a timed-out caller never
// tears down work that other callers share.
package streammgr
