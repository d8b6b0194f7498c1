// Package state stores small JSON documents per (tenant, prefix, key) with
// optional expiry, behind one Store contract shared by several backends.
//
// # Keys
//
// Every document lives under a fully-qualified name built by Compose:
//
//	jsonstate:<env>:<tenant>[:<team>][:<user>]:<prefix>:<key>
//
// The leading segment is Namespace. Stores written by other implementations
// of this layout under a different namespace (for example "greentic:state")
// are not visible here.
//
// ComposePrefix returns the leading part up to and including the separator
// after the prefix; DeleteByPrefix removes exactly the keys that start with
// it, so other tenants and other prefixes are never touched.
//
// # Paths
//
// Get and Set accept a Path, parsed from a JSON Pointer ("/a/0/b"). Reads
// that do not resolve report not found. Writes create missing containers on
// the way: an index segment creates an array, anything else an object.
// Addressing into a scalar, or using a non-numeric segment on an array, is
// an ErrInvalidInput failure.
//
// # Expiry
//
// Set takes a TTL: KeepTTL leaves an existing deadline alone, NoExpiry clears
// it, Seconds(n) replaces it with now+n. Expired entries read as absent.
//
// # Backends
//
//	Memory  in-process sharded map, per-key atomic updates
//	Redis   one shared connection, Lua upsert keeps the TTL atomically
//	Bolt    embedded bbolt file, one transaction per operation
//
// Memory and Bolt evaluate expiry themselves and implement Sweeper so a
// janitor (StartJanitor) can purge entries nobody reads. Redis relies on
// native key expiry.
package state
