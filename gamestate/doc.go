// Package gamestate holds the key/value game data shared by every script
// instance, and persists it as compressed snapshots or SQLite save slots.
package gamestate
