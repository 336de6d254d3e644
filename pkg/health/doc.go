/*
Package health implements the registry's readiness and liveness
probes: a small Checker interface (HTTP, TCP, exec, store, object
store) each returning a Result, plus a Status type that only flips
unhealthy after a configurable run of consecutive failures so a single
transient blip doesn't take the process out of rotation.

httpapi mounts /health (liveness: process is up) and /ready (readiness:
every registered Checker currently passes) using Registry's handlers in
registry.go.
*/
package health
