// Package orchestrator turns a lab task script's output into cluster
// objects owned by one lab user.
//
// Parse accepts exactly one JSON array of resource definitions. Apply then
// walks the array in order: it defaults the namespace, prefixes the name
// with the owner, adds the lab-owner label, keeps Deployment and Service
// selectors pointing at the renamed objects, and hands each definition to
// the creation strategy registered for its (apiVersion, kind). Definitions
// without a strategy are skipped. The first failed creation aborts the rest
// of the batch; objects created before it stay on the cluster.
package orchestrator
