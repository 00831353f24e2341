package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validBlock = `{"status":"degraded","failing_services":["kyc_identity_verification","passkeys"],"rebuild_recommended":false,"resource_warnings":["disk usage 91% on /"]}`

func requireKind(t *testing.T, err error, kind Kind) *ExtractionError {
	t.Helper()
	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, kind, extErr.Kind, extErr.Error())
	return extErr
}

func TestExtractWithSurroundingProse(t *testing.T) {
	text := "Two services are down and the disk is nearly full.\n\n```json\n" + validBlock + "\n```\n\nI can walk you through fixes."

	r, err := Extract(text)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, []string{"kyc_identity_verification", "passkeys"}, r.FailingServices)
	assert.False(t, r.RebuildRecommended)
	assert.Equal(t, []string{"disk usage 91% on /"}, r.ResourceWarnings)
	assert.True(t, r.HasFailures())
}

func TestExtractBareHealthyReport(t *testing.T) {
	r, err := Extract(`{"status":"healthy","failing_services":[],"rebuild_recommended":false,"resource_warnings":[]}`)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Empty(t, r.FailingServices)
	assert.NotNil(t, r.ResourceWarnings)
	assert.False(t, r.HasFailures())
}

func TestExtractIgnoresUnrelatedJSON(t *testing.T) {
	text := "The status tool returned {\"name\":\"pgbouncer\",\"running\":true}.\n" + validBlock
	r, err := Extract(text)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, r.Status)
}

func TestExtractBraceInsideString(t *testing.T) {
	r, err := Extract(`{"status":"critical","failing_services":["svc}{"],"rebuild_recommended":true,"resource_warnings":[]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc}{"}, r.FailingServices)
	assert.True(t, r.RebuildRecommended)
}

func TestExtractMissing(t *testing.T) {
	for _, text := range []string{
		"",
		"All services look fine to me.",
		`Here is some data: {"cpu": 12.5}`,
		`{'status': 'healthy'} and the "status" is fine`,
	} {
		err := requireKind(t, func() error { _, err := Extract(text); return err }(), Missing)
		assert.Equal(t, text, err.Raw)
	}
}

func TestExtractMalformed(t *testing.T) {
	tests := map[string]string{
		"missing key":         `{"status":"degraded","failing_services":[],"rebuild_recommended":false}`,
		"unknown status":      `{"status":"ok","failing_services":[],"rebuild_recommended":false,"resource_warnings":[]}`,
		"extra key":           `{"status":"healthy","failing_services":[],"rebuild_recommended":false,"resource_warnings":[],"notes":"x"}`,
		"wrong type":          `{"status":"healthy","failing_services":"none","rebuild_recommended":false,"resource_warnings":[]}`,
		"bool as string":      `{"status":"healthy","failing_services":[],"rebuild_recommended":"no","resource_warnings":[]}`,
		"duplicate warnings":  `{"status":"degraded","failing_services":[],"rebuild_recommended":false,"resource_warnings":["cpu 95%","cpu 95%"]}`,
		"empty service name":  `{"status":"degraded","failing_services":[""],"rebuild_recommended":false,"resource_warnings":[]}`,
		"duplicate services":  `{"status":"degraded","failing_services":["kyc","kyc"],"rebuild_recommended":false,"resource_warnings":[]}`,
		"invalid json":        "```json\n{\"status\": \"healthy\", \"failing_services\": [}\n```",
		"truncated output":    "Report:\n{\"status\": \"degraded\", \"failing_services\": [\"kyc",
		"null warnings array": `{"status":"healthy","failing_services":[],"rebuild_recommended":false,"resource_warnings":null}`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Extract(text)
			requireKind(t, err, Malformed)
		})
	}
}

func TestExtractUnbalancedBraceInProse(t *testing.T) {
	healthy := `{"status":"healthy","failing_services":[],"rebuild_recommended":false,"resource_warnings":[]}`
	for name, text := range map[string]string{
		"before block":  "The pattern `${HOME` was not expanded.\n```json\n" + healthy + "\n```",
		"two strays":    "Saw `{` twice: `{x`.\n" + validBlock,
		"after block":   validBlock + "\nand a dangling {",
		"quote in tail": "Config says `{\"mode\": \"strict` oddly.\n" + validBlock,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Extract(text)
			require.NoError(t, err)
		})
	}
}

func TestExtractAmbiguous(t *testing.T) {
	text := "First pass:\n" + validBlock + "\nCorrected:\n" + strings.Replace(validBlock, "degraded", "critical", 1)
	err := requireKind(t, func() error { _, err := Extract(text); return err }(), Ambiguous)
	assert.Contains(t, err.Error(), "2 report blocks")
}

func TestEncodeRoundTrip(t *testing.T) {
	reports := []HealthReport{
		{Status: StatusHealthy, FailingServices: []string{}, ResourceWarnings: []string{}},
		{Status: StatusCritical, FailingServices: []string{"dd_agent"}, RebuildRecommended: true, ResourceWarnings: []string{"memory 97%", "disk 99%"}},
	}
	for _, r := range reports {
		encoded, err := Encode(r)
		require.NoError(t, err)
		got, err := Extract(string(encoded))
		require.NoError(t, err)
		assert.Equal(t, r, got)

		block, err := Block(r)
		require.NoError(t, err)
		got, err = Extract("summary\n" + block)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestEncodeNormalizesSets(t *testing.T) {
	r := HealthReport{
		Status:           StatusDegraded,
		FailingServices:  []string{"kyc", "passkeys", "kyc"},
		ResourceWarnings: []string{"cpu 95%", "disk 91%", "cpu 95%"},
	}
	encoded, err := Encode(r)
	require.NoError(t, err)

	got, err := Extract(string(encoded))
	require.NoError(t, err)
	assert.Equal(t, []string{"kyc", "passkeys"}, got.FailingServices)
	assert.Equal(t, []string{"cpu 95%", "disk 91%"}, got.ResourceWarnings)
}

func TestEncodeRejectsInvalidReports(t *testing.T) {
	for name, r := range map[string]HealthReport{
		"empty status":       {},
		"unknown status":     {Status: "ok"},
		"empty service name": {Status: StatusDegraded, FailingServices: []string{""}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(r)
			assert.Error(t, err)
			_, err = Block(r)
			assert.Error(t, err)
		})
	}
}

func TestEncodeNilSlicesAsEmptyArrays(t *testing.T) {
	encoded, err := Encode(HealthReport{Status: StatusHealthy})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"healthy","failing_services":[],"rebuild_recommended":false,"resource_warnings":[]}`, string(encoded))
}

func TestFormatInstructionsContainValidExample(t *testing.T) {
	instructions := FormatInstructions()
	assert.Contains(t, instructions, "failing_services")
	r, err := Extract(instructions)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, r.Status)
}
