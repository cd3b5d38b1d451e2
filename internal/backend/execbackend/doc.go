// Package execbackend implements the backend.Backend contract by shelling
// out to an external microVM CLI binary (krunvm by default) as a child
// process. It never talks to a hypervisor in-process — VM create/start/
// delete/attach/list all become one child-process invocation each, with
// stderr surfaced verbatim on failure; stop sends SIGTERM to the process
// that start launched, if this adapter is still tracking one. This is the reference adapter spec.md
// §4.1 describes; swapping in a different microVM tool means writing a new
// package behind the same backend.Backend interface, not touching this one.
package execbackend
