// Package process runs external commands to completion with buffered output,
// a hard deadline and forced termination of the whole process group when the
// deadline passes or the caller cancels.
//
// It is used for both git operations and lab task scripts. Exit status is
// classified into success, *ExitError (nonzero exit) and ErrTimedOut.
package process
