// Package stores persists convergence run history in SQLite. Reports
// are write-only from the engine's point of view: history is never read
// back to influence convergence decisions.
package stores
