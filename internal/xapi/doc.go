// Package xapi defines the boundary to the X platform client: domain types,
// narrow read/write interfaces, the typed API error, and an in-memory fake.
package xapi
