// Package store provides persistence for policy audit entries and the
// approval queue, backed by SQLite in production and an in-memory mock in
// tests.
package store
