package diagnostics

import (
	"context"
	"fmt"

	"github.com/moolen/boxfixer/internal/agent/tools"
)

// Tool names exposed to the model.
const (
	ServiceStatusToolName = "get_service_status"
	ResourcesToolName     = "get_system_resources"
	StepsToolName         = "get_troubleshooting_steps"
)

type serviceStatusArgs struct {
	Services []string `json:"services,omitempty" jsonschema_description:"Service names to check. Empty checks every configured service."`
}

// ServiceStatusReport is the data returned by the service status tool.
type ServiceStatusReport struct {
	Services []ServiceStatus `json:"services"`
	Failing  []string        `json:"failing"`
}

// NewServiceStatusTool exposes the checker to the model.
func NewServiceStatusTool(checker *Checker) tools.Tool {
	return tools.NewTyped(ServiceStatusToolName,
		"Check whether QA box services are running in systemd, Docker or Kubernetes. "+
			"Returns status, message and uptime per service.",
		func(ctx context.Context, args serviceStatusArgs) (*tools.Result, error) {
			statuses := checker.CheckAll(ctx, args.Services)
			failing := FailingServices(statuses)
			if failing == nil {
				failing = []string{}
			}
			return tools.OK(ServiceStatusReport{Services: statuses, Failing: failing},
				fmt.Sprintf("%d/%d services failing", len(failing), len(statuses))), nil
		},
		tools.WithReadOnly())
}

type noArgs struct{}

// NewResourcesTool exposes the resource monitor to the model.
func NewResourcesTool(monitor *ResourceMonitor) tools.Tool {
	return tools.NewTyped(ResourcesToolName,
		"Report CPU, memory and disk usage and uptime of the QA box, with warnings above thresholds.",
		func(ctx context.Context, _ noArgs) (*tools.Result, error) {
			res, err := monitor.Sample(ctx)
			if err != nil {
				return tools.Failed("%v", err), nil
			}
			return tools.OK(res, fmt.Sprintf("cpu %.0f%%, memory %.0f%%, disk %.0f%%",
				res.CPUPercent, res.MemoryPercent, res.DiskPercent)), nil
		},
		tools.WithReadOnly())
}

type stepsArgs struct {
	Category string `json:"category" jsonschema:"required" jsonschema_description:"Service category, e.g. kyc_services or payment."`
}

// NewStepsTool exposes the catalog without the per-session deduplication
// the troubleshooting orchestrator adds. Used by the MCP server and CLI.
func NewStepsTool(catalog *Catalog) tools.Tool {
	return tools.NewTyped(StepsToolName,
		"Return troubleshooting steps, common fixes and tips for a service category.",
		func(ctx context.Context, args stepsArgs) (*tools.Result, error) {
			return catalog.Steps(ctx, args.Category)
		},
		tools.WithReadOnly())
}
