// Package meta implements the metadata table (URI -> config string)
// and the process-wide dhandle registry that shares one open Btree
// per URI across sessions. It also defines the cache-pool interface
// stub a future multi-database deployment would implement.
package meta
