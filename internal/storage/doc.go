package storage

// Package storage persists scheduled post records and the scheduler
// pause flag.
//
// Drivers:
//   - sqlite (default): single-file database, WAL, embedded schema
//   - file: JSON snapshot with atomic rewrite, no cgo, no deps
