package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/client"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/moolen/boxfixer/internal/agent/tools"
	"github.com/moolen/boxfixer/internal/config"
	"github.com/moolen/boxfixer/internal/logging"
)

// Suite bundles the diagnostic components built from configuration.
type Suite struct {
	Checker  *Checker
	Monitor  *ResourceMonitor
	Catalog  *Catalog
	Executor *Executor

	closers []func() error
}

// NewSuite builds probers in the configured order. A runtime whose client
// cannot be created is skipped with a warning so that the remaining probes
// still work on boxes without Docker or Kubernetes.
func NewSuite(ctx context.Context, cfg config.DiagnosticsConfig, categorize func(string) string) (*Suite, error) {
	logger := logging.GetLogger("diagnostics")

	catalog, err := LoadCatalog(cfg.StepsFile)
	if err != nil {
		return nil, err
	}

	s := &Suite{
		Catalog:  catalog,
		Executor: NewExecutor(cfg.CommandShell),
		Monitor: NewResourceMonitor(cfg.DiskPath, Thresholds{
			CPU:    cfg.CPUWarnPercent,
			Memory: cfg.MemoryWarnPercent,
			Disk:   cfg.DiskWarnPercent,
		}),
	}

	var probers []Prober
	for _, name := range cfg.Probes {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ProberSystemd:
			probers = append(probers, NewSystemdProber(nil))
		case ProberDocker:
			cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				logger.Warn("Docker probe disabled: %v", err)
				continue
			}
			s.closers = append(s.closers, cli.Close)
			probers = append(probers, NewDockerProber(cli))
		case ProberKubernetes:
			kp, err := newKubernetesProber(cfg)
			if err != nil {
				logger.Warn("Kubernetes probe disabled: %v", err)
				continue
			}
			probers = append(probers, kp)
		default:
			return nil, fmt.Errorf("unknown probe %q", name)
		}
	}
	if len(probers) == 0 {
		logger.Warn("No service probes available; every service will be reported as not found")
	}

	opts := []CheckerOption{WithCacheTTL(cfg.StatusCacheTTL)}
	if categorize != nil {
		opts = append(opts, WithCategorizer(categorize))
	}
	s.Checker = NewChecker(cfg.Services, probers, opts...)

	logger.Debug("Diagnostics ready: probes=%v services=%d categories=%v",
		s.Checker.Probers(), len(cfg.Services), catalog.Categories())
	return s, nil
}

// ReadOnlyTools returns the tools safe to run without confirmation.
func (s *Suite) ReadOnlyTools() []tools.Tool {
	return []tools.Tool{
		NewServiceStatusTool(s.Checker),
		NewResourcesTool(s.Monitor),
	}
}

// Name identifies the suite in the session lifecycle.
func (s *Suite) Name() string { return "diagnostics" }

// Start is a no-op; clients are created by NewSuite.
func (s *Suite) Start(context.Context) error { return nil }

// Stop releases runtime clients.
func (s *Suite) Stop(context.Context) error { return s.Close() }

// Close releases runtime clients.
func (s *Suite) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newKubernetesProber(cfg config.DiagnosticsConfig) (*KubernetesProber, error) {
	restConfig, err := buildRestConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		if namespace, err = NamespaceFromHostname(); err != nil {
			return nil, err
		}
	}
	return NewKubernetesProber(clientset, namespace), nil
}

// buildRestConfig prefers an explicit kubeconfig, then in-cluster config,
// then ~/.kube/config.
func buildRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if restConfig, err := rest.InClusterConfig(); err == nil {
		return restConfig, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate kubeconfig: %w", err)
	}
	restConfig, err := clientcmd.BuildConfigFromFlags("", filepath.Join(home, ".kube", "config"))
	if err != nil {
		return nil, fmt.Errorf("failed to build client config: %w", err)
	}
	return restConfig, nil
}
