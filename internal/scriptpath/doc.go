// Package scriptpath resolves the on-disk entrypoint of a lab task inside a
// template checkout.
//
// The candidate path is repoRoot/templatePath/taskID/base(action)/entrypoint.
// It is canonicalized (symlinks of the deepest existing ancestor resolved)
// and must remain a descendant of the canonical repository root. Escapes via
// "..", symlinks or absolute segments fail with ErrPathSecurityViolation
// before anything is executed.
package scriptpath
