// Package cache implements the keyed cache behind the restore_cache and
// save_cache steps.
//
// A cache key is a text/template rendered per job, for example
//
//	pip-{{ .Branch }}-{{ checksum "requirements.txt" }}
//
// Entries are immutable: the first save of a key wins and later saves are
// no-ops. Each entry is a zstd-compressed tar archive on disk, indexed in the
// state database. A restore tries each key in order, first as an exact
// match and then as a prefix of the most recently saved entry.
package cache
