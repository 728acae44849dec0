// Package labrunner runs lab actions: it resolves a lab template
// repository at a revision, executes the task script for the requested
// action and creates the Kubernetes resources the script prints in the
// cluster the request names.
//
// # Basic Usage
//
//	import "github.com/giantswarm/labrunner"
//
//	ctx := context.Background()
//
//	ctrl := labrunner.NewController(
//	    labrunner.WithKubeconfig("/etc/labrunner/kubeconfig"),
//	    labrunner.WithCacheRoot("/var/cache/labrunner/repos"),
//	    labrunner.WithIndexPath("/var/cache/labrunner/index.db"),
//	)
//	if err := ctrl.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Shutdown()
//
//	resp := ctrl.Handle(ctx, labrunner.Request{
//	    Source:       "https://github.com/example/labs.git",
//	    Revision:     "main",
//	    TemplatePath: "labs/basics",
//	    TaskID:       "1",
//	    Action:       "init",
//	    ClusterID:    "training-1",
//	    Owner:        "alice",
//	})
//
// # Task Scripts
//
// The script for an action lives at <lab_template_path>/<task_id>/<action>/<entrypoint>
// inside the checkout. It runs with its own directory as working directory
// and receives K8S_CLUSTER_ID, LAB_TASK_ID, LAB_OWNER, LAB_ACTION and
// AGGREGATED_KUBECONFIG_PATH in its environment. Its standard output must
// be a JSON array of Kubernetes objects. Every object name is prefixed with
// the owner and labeled with lab-owner before creation.
//
// # HTTP
//
// NewHTTPHandler exposes a Controller as POST /lab and GET /healthz. The
// labrunner command serves it.
package labrunner
