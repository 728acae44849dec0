package repocache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyPrefix namespaces repository entries in the shared index.
const keyPrefix = "lab_repo"

// maxSlugLen bounds each readable part of a directory name.
const maxSlugLen = 64

// Key returns the index key for source at revision.
func Key(source, revision string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, sanitizeSource(source), revision)
}

// DirName returns the deterministic directory name, relative to the cache
// root, of the checkout for source at revision.
func DirName(source, revision string) string {
	return sanitizeSource(source) + "_" + sanitizeRevision(revision)
}

// sanitizeSource turns a repository URL into a filesystem-safe name. The
// scheme, credentials and ".git" suffix are dropped for readability; a short
// hash of the credential-free URL keeps distinct sources apart even when
// their readable parts collide.
func sanitizeSource(source string) string {
	clean := RedactURL(source)
	readable := clean
	if i := strings.Index(readable, "://"); i >= 0 {
		readable = readable[i+3:]
	}
	readable = strings.TrimSuffix(strings.TrimSuffix(readable, "/"), ".git")
	return slug(readable) + "-" + shortHash(clean)
}

// sanitizeRevision keeps plain revisions as they are and adds a hash suffix
// when characters had to be replaced, so "feature/x" and "feature_x" differ.
func sanitizeRevision(revision string) string {
	s := slug(revision)
	if s == revision {
		return s
	}
	return s + "-" + shortHash(revision)
}

// slug replaces every byte outside [A-Za-z0-9.-] with '_' and truncates the
// result to maxSlugLen.
func slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := range len(s) {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxSlugLen {
		out = out[:maxSlugLen]
	}
	return out
}

// shortHash returns the first 12 hex characters of the SHA-256 of s.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
