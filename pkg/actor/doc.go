// Package actor is the concurrency substrate of the whole module: named
// actors with an address, a mailbox and a single logical thread of
// control, multiplexed onto the Go scheduler.
//
// An actor processes exactly one message at a time, to completion,
// before the next; many actors run in parallel but never concurrently
// with themselves, so actor state needs no locking. Messages from actor
// A to actor B arrive in the order A sent them; there is no global order
// across senders. Dispatched closures share the mailbox with messages,
// so the FIFO contract covers both.
//
// Blocking OS work does not belong on an actor: delegate it to a
// dedicated goroutine that reports back with System.Send or Dispatch,
// the way the slave's reaper and the detectors do.
//
// Every timer (receive timeouts, Pause, clock callbacks) runs on the
// system's clock.Clock, so tests drive the entire runtime from a mock
// clock.
package actor
