// Package inmemorytopology provides a thread-safe, in-memory implementation
// of the topologystore.Store interface. A run's graph is small (tens to a few
// hundred job instances) so it always fits comfortably in memory.
package inmemorytopology
