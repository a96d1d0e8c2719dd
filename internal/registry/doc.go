// Package registry records which packages are installed and which files
// each one owns.
//
// The [Store] interface is injected into the executor so that tests can use
// a [MemoryStore] while the CLI and daemon use a [FileStore]. A FileStore
// keeps one JSON document per package and replaces it atomically, so a
// crash never leaves a half-written record. Writes through one store are
// serialized; reads may run concurrently.
//
// A [Resolver] answers where a dependency's executables live: in the bin
// directory of an installed package, or on the host PATH when system tools
// are allowed.
package registry
