// Package tools implements the gateway's tool surface. Read tools wrap
// backend lookups in the retry runner and normalize pagination; mutation
// tools authorize every attempt through the policy gateway before the
// write client is touched. Tool sets are assembled per profile, and only
// the full profile's constructor ever references the write path.
package tools
