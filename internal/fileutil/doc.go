// Package fileutil holds the small filesystem helpers shared by the
// repository cache and the controller: creating state directories and
// probing checkout layouts.
package fileutil
