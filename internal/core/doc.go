// Package core provides the internal implementation of the labrunner
// controller. It contains the Controller (lifecycle state machine with
// in-flight draining on shutdown), the admission Gate bounding concurrent
// pipelines, the per-request pipeline that resolves a template checkout,
// runs the task script and applies its resources, and the HTTP boundary.
package core
