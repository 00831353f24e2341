package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind classifies an ExtractionError.
type Kind int

const (
	// Missing means no report-shaped block was found.
	Missing Kind = iota + 1
	// Malformed means the single block failed to parse or validate.
	Malformed
	// Ambiguous means more than one report-shaped block was found.
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Missing:
		return "missing"
	case Malformed:
		return "malformed"
	case Ambiguous:
		return "ambiguous"
	}
	return "unknown"
}

// ExtractionError is returned when the model output does not carry exactly
// one valid report. Raw is the full model text so it can be shown verbatim.
type ExtractionError struct {
	Kind   Kind
	Detail string
	Raw    string
}

func (e *ExtractionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("health report %s", e.Kind)
	}
	return fmt.Sprintf("health report %s: %s", e.Kind, e.Detail)
}

const schemaURL = "https://boxfixer.local/schemas/health-report.json"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["status", "failing_services", "rebuild_recommended", "resource_warnings"],
  "additionalProperties": false,
  "properties": {
    "status": {"enum": ["healthy", "degraded", "critical"]},
    "failing_services": {"type": "array", "items": {"type": "string", "minLength": 1}, "uniqueItems": true},
    "rebuild_recommended": {"type": "boolean"},
    "resource_warnings": {"type": "array", "items": {"type": "string"}, "uniqueItems": true}
  }
}`

var reportKeys = []string{"status", "failing_services", "rebuild_recommended", "resource_warnings"}

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("report: invalid schema document: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("report: cannot add schema: %v", err))
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("report: cannot compile schema: %v", err))
	}
	return sch
}

// Extract finds and validates the single HealthReport in text. Prose around
// the block is allowed. A candidate is any top-level JSON object in the text
// that mentions at least one report key; exactly one candidate must exist.
func Extract(text string) (HealthReport, error) {
	candidates := findCandidates(text)
	switch len(candidates) {
	case 0:
		return HealthReport{}, &ExtractionError{Kind: Missing, Detail: "no JSON report block found", Raw: text}
	case 1:
	default:
		return HealthReport{}, &ExtractionError{
			Kind:   Ambiguous,
			Detail: fmt.Sprintf("found %d report blocks, expected exactly one", len(candidates)),
			Raw:    text,
		}
	}

	block := candidates[0]
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(block))
	if err != nil {
		return HealthReport{}, &ExtractionError{Kind: Malformed, Detail: "invalid JSON: " + err.Error(), Raw: text}
	}
	if err := schema.Validate(inst); err != nil {
		return HealthReport{}, &ExtractionError{Kind: Malformed, Detail: err.Error(), Raw: text}
	}

	var r HealthReport
	if err := json.Unmarshal([]byte(block), &r); err != nil {
		return HealthReport{}, &ExtractionError{Kind: Malformed, Detail: err.Error(), Raw: text}
	}
	return r.normalized(), nil
}

// findCandidates returns every top-level balanced {...} span that either
// decodes to an object with a report key or, failing to decode, mentions one
// textually. An unterminated object that mentions a report key counts too,
// so truncated output surfaces as Malformed rather than Missing.
func findCandidates(text string) []string {
	var out []string
	for _, span := range topLevelObjects(text) {
		if isCandidate(span) {
			out = append(out, span)
		}
	}
	return out
}

func isCandidate(span string) bool {
	var obj map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(span)))
	if err := dec.Decode(&obj); err == nil {
		for _, key := range reportKeys {
			if _, ok := obj[key]; ok {
				return true
			}
		}
		return false
	}
	for _, key := range reportKeys {
		if strings.Contains(span, `"`+key+`"`) {
			return true
		}
	}
	return false
}

// topLevelObjects returns the brace-balanced spans of text. When an object
// never closes, scanning resumes just after its opening brace, so a stray
// "{" in prose cannot swallow a later block. The unterminated tail is kept
// only when nothing balanced follows it.
func topLevelObjects(text string) []string {
	spans, open := scanObjects(text)
	if open < 0 {
		return spans
	}
	tail := text[open:]
	var rescanned []string
	for open >= 0 {
		text = text[open+1:]
		var found []string
		found, open = scanObjects(text)
		rescanned = append(rescanned, found...)
	}
	if len(rescanned) == 0 {
		return append(spans, tail)
	}
	return append(spans, rescanned...)
}

// scanObjects collects balanced {...} spans, honouring JSON string quoting
// inside them. open is the index of an object left unterminated, or -1.
func scanObjects(text string) (spans []string, open int) {
	var (
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if depth > 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	if depth > 0 {
		return spans, start
	}
	return spans, -1
}
