// Package kvindex is a small key/value index with per-entry expiry, backed by
// a SQLite database file through the pure-Go modernc.org/sqlite driver.
//
// It is the cross-process index of the repository cache: several controller
// processes pointing at the same database file see the same entries. An
// expired entry reads as absent even though its row may still exist; expired
// rows are purged when the store is opened.
package kvindex
