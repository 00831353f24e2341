package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moolen/boxfixer/internal/agent/troubleshoot"
	"github.com/moolen/boxfixer/internal/diagnostics"
	"github.com/moolen/boxfixer/internal/display"
	"github.com/moolen/boxfixer/internal/logging"
)

var outputFormat string

var checkServicesCmd = &cobra.Command{
	Use:   "check-services [service...]",
	Short: "Print the status of the monitored services",
	Long: `Probe every monitored service (or only the given ones) with the configured
probes, in order: systemd units, Docker containers, Kubernetes pods.`,
	RunE: runCheckServices,
}

var checkResourcesCmd = &cobra.Command{
	Use:   "check-sys-resources",
	Short: "Print CPU, memory and disk usage",
	Args:  cobra.NoArgs,
	RunE:  runCheckResources,
}

var stepsCmd = &cobra.Command{
	Use:   "get-tb-steps <category>",
	Short: "Print the troubleshooting steps of a category",
	Args:  cobra.ExactArgs(1),
	RunE:  runSteps,
}

func init() {
	for _, cmd := range []*cobra.Command{checkServicesCmd, checkResourcesCmd, stepsCmd} {
		cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")
	}
}

func newRenderer(out io.Writer) *display.Renderer {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return display.NewRenderer(out)
	}
	return display.NewRenderer(out, display.WithPlain())
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkOutputFormat() error {
	switch outputFormat {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("unknown output format %q (must be text or json)", outputFormat)
}

func runCheckServices(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	resolver, err := troubleshoot.NewPatternResolver(cfg.Categories.Rules, cfg.Categories.Default)
	if err != nil {
		return err
	}
	suite, err := diagnostics.NewSuite(cmd.Context(), cfg.Diagnostics, resolver.Resolve)
	if err != nil {
		return err
	}
	defer func() {
		if err := suite.Close(); err != nil {
			logging.GetLogger("diagnostics").Warn("Failed to close diagnostics clients: %v", err)
		}
	}()

	statuses := suite.Checker.CheckAll(cmd.Context(), args)
	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		failing := diagnostics.FailingServices(statuses)
		if failing == nil {
			failing = []string{}
		}
		return writeJSON(out, diagnostics.ServiceStatusReport{Services: statuses, Failing: failing})
	}
	newRenderer(out).Statuses(statuses)
	return nil
}

func runCheckResources(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	monitor := diagnostics.NewResourceMonitor(cfg.Diagnostics.DiskPath, diagnostics.Thresholds{
		CPU:    cfg.Diagnostics.CPUWarnPercent,
		Memory: cfg.Diagnostics.MemoryWarnPercent,
		Disk:   cfg.Diagnostics.DiskWarnPercent,
	})
	res, err := monitor.Sample(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, res)
	}
	newRenderer(out).Resources(res)
	return nil
}

func runSteps(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := diagnostics.LoadCatalog(cfg.Diagnostics.StepsFile)
	if err != nil {
		return err
	}

	category := strings.ToLower(strings.TrimSpace(args[0]))
	guide, ok := catalog.Lookup(category)
	if !ok {
		return fmt.Errorf("unknown category %q; available: %s", category, strings.Join(catalog.Categories(), ", "))
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, guide)
	}
	newRenderer(out).Guide(category, guide)
	return nil
}
