package main

import (
	"strings"
	"testing"
)

func validationTemplate() *Template {
	return &Template{
		ID: "invoice",
		Fields: []TemplateField{
			{Key: "gross", Type: FieldAmount, Critical: true},
			{Key: "net", Type: FieldAmount},
			{Key: "vat", Type: FieldAmount},
			{Key: "issue_date", Type: FieldDate},
			{Key: "due_date", Type: FieldDate},
		},
		Validations: []ValidationRule{
			{ID: "gross-sum", Type: ValidateSum, Target: "gross", Parts: []string{"net", "vat"}},
			{ID: "date-order", Type: ValidateOrder, Earlier: "issue_date", Later: "due_date"},
			{ID: "positive-gross", Type: ValidatePositive, Target: "gross"},
		},
		Policy: CommitPolicy{GateConfidence: 0.75},
	}
}

func field(key, value string, conf float64) ExtractedField {
	return ExtractedField{Key: key, RawValue: value, Normalized: value, Confidence: conf}
}

func TestRunValidationsSumPass(t *testing.T) {
	tmpl := validationTemplate()
	result := NewExtractionResult()
	result.Fields["gross"] = field("gross", "123.00", 0.9)
	result.Fields["net"] = field("net", "100.00", 0.9)
	result.Fields["vat"] = field("vat", "23.00", 0.9)

	failures := RunValidations(result, tmpl)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if result.Confidence("gross") != 0.9 {
		t.Fatal("passing validation must not touch confidence")
	}
}

func TestRunValidationsSumFailDowngrades(t *testing.T) {
	tmpl := validationTemplate()
	result := NewExtractionResult()
	result.Fields["gross"] = field("gross", "150.00", 0.9)
	result.Fields["net"] = field("net", "100.00", 0.9)
	result.Fields["vat"] = field("vat", "23.00", 0.8)

	failures := RunValidations(result, tmpl)
	if len(failures) != 1 || failures[0].RuleID != "gross-sum" {
		t.Fatalf("failures = %+v", failures)
	}
	if got := result.Confidence("gross"); got != 0.9*validationPenalty {
		t.Fatalf("gross confidence = %v", got)
	}
	if got := result.Confidence("vat"); got != 0.8*validationPenalty {
		t.Fatalf("vat confidence = %v", got)
	}
	if !strings.Contains(result.Fields["gross"].Evidence, "gross-sum") {
		t.Fatal("failure evidence missing")
	}
	// Values survive; only confidence moves.
	if result.Value("gross") != "150.00" {
		t.Fatal("validation must not drop values")
	}
}

func TestRunValidationsSumTolerance(t *testing.T) {
	tmpl := validationTemplate()
	tmpl.Validations[0].Tolerance = 0.05
	result := NewExtractionResult()
	result.Fields["gross"] = field("gross", "123.04", 0.9)
	result.Fields["net"] = field("net", "100.00", 0.9)
	result.Fields["vat"] = field("vat", "23.00", 0.9)

	if failures := RunValidations(result, tmpl); len(failures) != 0 {
		t.Fatalf("within tolerance but failed: %+v", failures)
	}
}

func TestRunValidationsSkipsIncomplete(t *testing.T) {
	tmpl := validationTemplate()
	result := NewExtractionResult()
	result.Fields["gross"] = field("gross", "150.00", 0.9)
	// net and vat absent; issue/due dates absent.
	failures := RunValidations(result, tmpl)
	if len(failures) != 0 {
		t.Fatalf("incomplete inputs must skip, got %+v", failures)
	}
}

func TestRunValidationsDateOrder(t *testing.T) {
	tmpl := validationTemplate()
	result := NewExtractionResult()
	result.Fields["issue_date"] = field("issue_date", "2025-04-01", 0.9)
	result.Fields["due_date"] = field("due_date", "2025-03-14", 0.9)

	failures := RunValidations(result, tmpl)
	if len(failures) != 1 || failures[0].RuleID != "date-order" {
		t.Fatalf("failures = %+v", failures)
	}
	if result.Confidence("due_date") != 0.9*validationPenalty {
		t.Fatal("date order failure must downgrade both dates")
	}
}

func TestRunValidationsPositive(t *testing.T) {
	tmpl := validationTemplate()
	tmpl.Validations = tmpl.Validations[2:3]
	result := NewExtractionResult()
	result.Fields["gross"] = field("gross", "-5.00", 0.9)

	failures := RunValidations(result, tmpl)
	if len(failures) != 1 || failures[0].RuleID != "positive-gross" {
		t.Fatalf("failures = %+v", failures)
	}
}

func evidencedField(key, value string, conf float64) ExtractedField {
	f := field(key, value, conf)
	f.Evidence = key + ": " + value
	return f
}

func TestCriticalFieldsPass(t *testing.T) {
	tmpl := validationTemplate()
	result := NewExtractionResult()
	if CriticalFieldsPass(result, tmpl) {
		t.Fatal("empty result cannot pass")
	}
	result.Fields["gross"] = evidencedField("gross", "123.00", 0.74)
	if CriticalFieldsPass(result, tmpl) {
		t.Fatal("below gate confidence must not pass")
	}
	result.Fields["gross"] = evidencedField("gross", "123.00", 0.75)
	if !CriticalFieldsPass(result, tmpl) {
		t.Fatal("evidenced critical field at gate confidence must pass")
	}
}

// Acceptance needs evidence on every critical field, whatever the
// confidence.
func TestCriticalFieldsPassRequiresEvidence(t *testing.T) {
	tmpl := validationTemplate()
	result := NewExtractionResult()
	result.Fields["gross"] = field("gross", "123.00", 0.9)
	if CriticalFieldsPass(result, tmpl) {
		t.Fatal("evidence-free critical field must not pass acceptance")
	}
}

func TestCriticalFieldsPassMinimumValidation(t *testing.T) {
	tmpl := validationTemplate()
	result := NewExtractionResult()
	result.Fields["gross"] = evidencedField("gross", "-5.00", 0.9)
	if CriticalFieldsPass(result, tmpl) {
		t.Fatal("failed positive check must not pass acceptance")
	}
}

// The zero-cost exit after the free rules level is gated on the auto-apply
// threshold, not the stricter gate confidence.
func TestDeterministicPassUsesAutoApplyThreshold(t *testing.T) {
	tmpl := validationTemplate()
	tmpl.Policy.MinConfidence = 0.7
	result := NewExtractionResult()
	result.Fields["gross"] = field("gross", "123.00", 0.72)
	if !DeterministicPass(result, tmpl) {
		t.Fatal("critical field above the auto-apply threshold must exit free")
	}
	result.Fields["gross"] = field("gross", "123.00", 0.69)
	if DeterministicPass(result, tmpl) {
		t.Fatal("below the auto-apply threshold must escalate")
	}
}
