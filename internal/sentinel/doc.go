// Package sentinel defines the constant error type used for every sentinel
// in labrunner. Because the type is a string, sentinels are declared with
// const and cannot be reassigned by importers, and errors.Is still matches
// them anywhere in a wrapped chain.
package sentinel
