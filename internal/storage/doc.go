package storage

// Package storage persists the per-collection known event id ledgers.
//
// Two drivers are available:
//   - "file": one line-oriented text file per (collection, category)
//   - "sqlite": a single database file (optional build tag)
