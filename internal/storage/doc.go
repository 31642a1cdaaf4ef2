// Package storage is the SQLite persistence layer: known users (the
// broadcast recipient set), per-user forward settings, the channel
// message index the engines enumerate from, and the persistent
// fingerprint store behind duplicate-skip filtering.
package storage
