// Package repocache maps a (source, revision) pair to a local shallow git
// checkout shared by concurrent requests and by controller processes that
// point at the same cache root and index.
//
// A hit whose directory still exists is fast-forwarded with git pull. A
// failed pull drops the index entry and falls through to a fresh clone.
// Clones land in a temporary sibling directory and are renamed into place,
// so a checkout directory is either complete or absent. Every resolve for a
// key runs under a per-key file lock held for the whole lookup, pull and
// clone sequence.
package repocache
