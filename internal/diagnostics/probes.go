package diagnostics

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Prober names.
const (
	ProberSystemd    = "systemd"
	ProberDocker     = "docker"
	ProberKubernetes = "kubernetes"
)

// CommandFunc runs a program and returns its stdout.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// SystemdProber reads unit state with `systemctl show`.
type SystemdProber struct {
	run CommandFunc
	now func() time.Time
}

// NewSystemdProber creates a prober. A nil run uses os/exec.
func NewSystemdProber(run CommandFunc) *SystemdProber {
	if run == nil {
		run = execOutput
	}
	return &SystemdProber{run: run, now: time.Now}
}

func (p *SystemdProber) Name() string { return ProberSystemd }

// systemd prints timestamps like "Mon 2025-03-03 10:12:01 UTC".
const systemdTimeLayout = "Mon 2006-01-02 15:04:05 MST"

func (p *SystemdProber) Probe(ctx context.Context, service string) (*ServiceStatus, error) {
	out, err := p.run(ctx, "systemctl", "show", service,
		"--property=LoadState,ActiveState,SubState,ActiveEnterTimestamp", "--no-pager")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("systemctl show %s: %w", service, err)
	}

	props := parseProperties(out)
	if props["LoadState"] != "loaded" {
		return nil, nil
	}

	st := &ServiceStatus{Status: StatusOK}
	if props["ActiveState"] == "active" {
		st.Running = true
		st.Message = fmt.Sprintf("System service: loaded and active (%s)", props["SubState"])
		if since, err := time.Parse(systemdTimeLayout, props["ActiveEnterTimestamp"]); err == nil {
			st.RunningDays = daysSince(since, p.now())
		}
		return st, nil
	}

	st.Status = StatusWarning
	st.Message = fmt.Sprintf("System service is loaded but %s (%s)", props["ActiveState"], props["SubState"])
	return st, nil
}

func parseProperties(out []byte) map[string]string {
	props := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if ok {
			props[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return props
}

const dockerStateRunning = "running"

// ContainerLister is the part of the Docker client the prober uses.
type ContainerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// DockerProber finds containers whose name matches the service.
type DockerProber struct {
	client ContainerLister
	now    func() time.Time
}

// NewDockerProber creates a prober over client.
func NewDockerProber(client ContainerLister) *DockerProber {
	return &DockerProber{client: client, now: time.Now}
}

func (p *DockerProber) Name() string { return ProberDocker }

func (p *DockerProber) Probe(ctx context.Context, service string) (*ServiceStatus, error) {
	containers, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", service)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return nil, nil
	}

	ctr := pickContainer(containers, service)
	if ctr.State == dockerStateRunning {
		return &ServiceStatus{
			Status:      StatusOK,
			Running:     true,
			Message:     "Docker container: " + ctr.Status,
			RunningDays: daysSince(time.Unix(ctr.Created, 0), p.now()),
		}, nil
	}
	return &ServiceStatus{
		Status:  StatusWarning,
		Message: "Docker container exists but is not running: " + ctr.Status,
	}, nil
}

// pickContainer prefers an exact name match, then a running container.
// The Docker name filter matches substrings.
func pickContainer(containers []container.Summary, service string) container.Summary {
	rank := func(c container.Summary) int {
		score := 0
		for _, name := range c.Names {
			if strings.TrimPrefix(name, "/") == service {
				score += 2
				break
			}
		}
		if c.State == dockerStateRunning {
			score++
		}
		return score
	}
	best := containers[0]
	for _, c := range containers[1:] {
		if rank(c) > rank(best) {
			best = c
		}
	}
	return best
}

// KubernetesProber finds pods whose name contains the service.
type KubernetesProber struct {
	client    kubernetes.Interface
	namespace string
	now       func() time.Time
}

// NewKubernetesProber creates a prober for pods in namespace.
func NewKubernetesProber(client kubernetes.Interface, namespace string) *KubernetesProber {
	return &KubernetesProber{client: client, namespace: namespace, now: time.Now}
}

func (p *KubernetesProber) Name() string { return ProberKubernetes }

func (p *KubernetesProber) Probe(ctx context.Context, service string) (*ServiceStatus, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in %s: %w", p.namespace, err)
	}

	var matches []corev1.Pod
	for _, pod := range pods.Items {
		if strings.Contains(pod.Name, service) {
			matches = append(matches, pod)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Status.Phase == corev1.PodRunning && matches[j].Status.Phase != corev1.PodRunning
	})
	pod := matches[0]

	started := pod.CreationTimestamp.Time
	if pod.Status.StartTime != nil {
		started = pod.Status.StartTime.Time
	}
	restarts := int32(0)
	for _, cs := range pod.Status.ContainerStatuses {
		restarts += cs.RestartCount
	}
	age := formatAge(p.now().Sub(started))

	if pod.Status.Phase == corev1.PodRunning {
		return &ServiceStatus{
			Status:  StatusOK,
			Running: true,
			Message: fmt.Sprintf("Kubernetes pod %s running in namespace %s. Up for %s, %d restarts",
				pod.Name, p.namespace, age, restarts),
			RunningDays: daysSince(started, p.now()),
		}, nil
	}
	return &ServiceStatus{
		Status: StatusWarning,
		Message: fmt.Sprintf("Kubernetes pod %s exists in namespace %s but status is %s. Age %s, %d restarts",
			pod.Name, p.namespace, podState(pod), age, restarts),
	}, nil
}

// podState returns the most specific waiting reason, e.g. CrashLoopBackOff,
// falling back to the pod phase.
func podState(pod corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
	}
	return string(pod.Status.Phase)
}

func formatAge(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d >= 48*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// NamespaceFromHostname derives the box namespace from the first label of
// the hostname, e.g. qa40 for qa40.example.com.
func NamespaceFromHostname() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to read hostname: %w", err)
	}
	ns, _, _ := strings.Cut(strings.TrimSpace(host), ".")
	if ns == "" {
		return "", errors.New("hostname is empty")
	}
	return ns, nil
}
