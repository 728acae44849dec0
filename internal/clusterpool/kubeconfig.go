package clusterpool

import (
	"context"
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubeconfigFactory returns a Factory that selects the cluster identifier
// as the context of an aggregated kubeconfig file. An empty path uses the
// standard loading rules (KUBECONFIG, then ~/.kube/config).
//
// Each client gets its own HTTP client so eviction can close its idle
// connections without touching other clusters.
func KubeconfigFactory(path string) Factory {
	return func(_ context.Context, clusterID string) (kubernetes.Interface, func(), error) {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if path != "" {
			rules.ExplicitPath = path
		}
		overrides := &clientcmd.ConfigOverrides{CurrentContext: clusterID}

		cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("load kubeconfig context %q: %w", clusterID, err)
		}

		httpClient, err := rest.HTTPClientFor(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create http client: %w", err)
		}

		cs, err := kubernetes.NewForConfigAndClient(cfg, httpClient)
		if err != nil {
			return nil, nil, fmt.Errorf("create clientset: %w", err)
		}
		return cs, httpClient.CloseIdleConnections, nil
	}
}
