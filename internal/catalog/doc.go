// Package catalog holds the department and disease reference data used to
// route a standardized diagnosis to the department that treats it.
//
// The data is loaded once (from the embedded seed, a YAML file or PostgreSQL)
// into an Index, an immutable arena keyed by id and by normalised name. All
// lookups are read-only and safe for concurrent use.
package catalog
