// Package report defines the HealthReport that ends an initial assessment
// and extracts it, strictly, from free-form model output.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Status is the overall box health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// HealthReport is the structured summary the model must emit exactly once at
// the end of an initial assessment.
type HealthReport struct {
	Status             Status   `json:"status"`
	FailingServices    []string `json:"failing_services"`
	RebuildRecommended bool     `json:"rebuild_recommended"`
	ResourceWarnings   []string `json:"resource_warnings"`
}

// HasFailures reports whether troubleshooting is needed.
func (r HealthReport) HasFailures() bool {
	return len(r.FailingServices) > 0
}

// normalized turns nil lists into empty ones and drops repeated entries,
// keeping the first occurrence.
func (r HealthReport) normalized() HealthReport {
	r.FailingServices = uniqueStrings(r.FailingServices)
	r.ResourceWarnings = uniqueStrings(r.ResourceWarnings)
	return r
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Encode returns the canonical wire form of r. It fails for reports that
// Extract would reject, such as an unknown status or an empty service name.
func Encode(r HealthReport) ([]byte, error) {
	data, err := json.Marshal(r.normalized())
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid health report: %w", err)
	}
	return data, nil
}

// Block returns r as a fenced json block, the shape models are asked to emit.
func Block(r HealthReport) (string, error) {
	data, err := Encode(r)
	if err != nil {
		return "", err
	}
	return "```json\n" + string(data) + "\n```", nil
}

// FormatInstructions describes the required block for inclusion in prompts.
func FormatInstructions() string {
	example, _ := Block(HealthReport{
		Status:             StatusDegraded,
		FailingServices:    []string{"kyc_identity_verification"},
		RebuildRecommended: false,
		ResourceWarnings:   []string{"disk usage 91% on /"},
	})

	var b strings.Builder
	b.WriteString("End your answer with exactly one JSON object in a ```json fenced block, and no other JSON anywhere in the answer.\n")
	b.WriteString("The object must have exactly these keys:\n")
	fmt.Fprintf(&b, "- status: one of %q, %q, %q\n", StatusHealthy, StatusDegraded, StatusCritical)
	b.WriteString("- failing_services: array of the names of services that are not running or report an error (empty array if none)\n")
	b.WriteString("- rebuild_recommended: true or false\n")
	b.WriteString("- resource_warnings: array of distinct short warnings about CPU, memory or disk pressure (empty array if none)\n")
	b.WriteString("Example:\n")
	b.WriteString(example)
	return b.String()
}
