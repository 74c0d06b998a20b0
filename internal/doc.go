// Package internal holds the casewire server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP routing, health probes, and the websocket status feed
// - domain: case jobs, artifacts, and the entity graph model
// - storage: Postgres repositories and migrations
// - jobs: river queue workers and the completion sweep
// - pipeline, ml, kg: per-file-type stages, model clients, graph building
// - config, metrics, telemetry, alerts: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
