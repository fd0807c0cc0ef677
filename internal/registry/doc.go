// Package registry declares the tool manifest and builds profile-scoped
// dispatch registries. A registry is constructed for exactly one profile
// from exactly the tools that declare it; there is no runtime filtering, so
// a smaller profile's server never holds a disallowed handler at all.
package registry
