package main

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"
)

// validationPenalty multiplies the confidence of every field a failed
// validation covers. Values stay in the result; the merge table decides
// their fate at the reduced confidence.
const validationPenalty = 0.5

const defaultSumTolerance = 0.01

// ValidationFailure records one failed cross-field check. It is a local
// observation, never an error: extraction proceeds with downgraded
// confidence.
type ValidationFailure struct {
	RuleID string
	Type   string
	Detail string
}

// RunValidations evaluates the template's declared cross-field checks
// against the accumulated result. A rule whose inputs are absent or
// unparseable is skipped: validation judges consistency, not completeness.
// Failures downgrade the covered fields and attach evidence.
func RunValidations(result *ExtractionResult, tmpl *Template) []ValidationFailure {
	var failures []ValidationFailure
	for _, rule := range tmpl.Validations {
		failure, failed := evalValidation(result, rule)
		if !failed {
			continue
		}
		failures = append(failures, failure)
		log.Printf("validation failed rule=%s type=%s detail=%q", rule.ID, rule.Type, failure.Detail)
		for _, key := range rule.Covers() {
			f, ok := result.Fields[key]
			if !ok || !f.HasValue() {
				continue
			}
			f.Confidence *= validationPenalty
			f.Evidence = appendEvidence(f.Evidence, fmt.Sprintf("failed %s", rule.ID))
			result.Fields[key] = f
		}
	}
	return failures
}

func evalValidation(result *ExtractionResult, rule ValidationRule) (ValidationFailure, bool) {
	switch rule.Type {
	case ValidateSum:
		return evalSum(result, rule)
	case ValidateOrder:
		return evalOrder(result, rule)
	case ValidatePositive:
		return evalPositive(result, rule)
	}
	return ValidationFailure{}, false
}

func evalSum(result *ExtractionResult, rule ValidationRule) (ValidationFailure, bool) {
	target, ok := amountOf(result, rule.Target)
	if !ok {
		return ValidationFailure{}, false
	}
	sum := decimal.Zero
	for _, part := range rule.Parts {
		v, ok := amountOf(result, part)
		if !ok {
			return ValidationFailure{}, false
		}
		sum = sum.Add(v)
	}
	tolerance := rule.Tolerance
	if tolerance == 0 {
		tolerance = defaultSumTolerance
	}
	if target.Sub(sum).Abs().LessThanOrEqual(decimal.NewFromFloat(tolerance)) {
		return ValidationFailure{}, false
	}
	return ValidationFailure{
		RuleID: rule.ID,
		Type:   rule.Type,
		Detail: fmt.Sprintf("%s=%s but parts sum to %s", rule.Target, target, sum),
	}, true
}

func evalOrder(result *ExtractionResult, rule ValidationRule) (ValidationFailure, bool) {
	earlier := NormalizeDate(result.Value(rule.Earlier))
	later := NormalizeDate(result.Value(rule.Later))
	if earlier == "" || later == "" {
		return ValidationFailure{}, false
	}
	// ISO dates order lexicographically.
	if earlier <= later {
		return ValidationFailure{}, false
	}
	return ValidationFailure{
		RuleID: rule.ID,
		Type:   rule.Type,
		Detail: fmt.Sprintf("%s=%s is after %s=%s", rule.Earlier, earlier, rule.Later, later),
	}, true
}

func evalPositive(result *ExtractionResult, rule ValidationRule) (ValidationFailure, bool) {
	v, ok := amountOf(result, rule.Target)
	if !ok {
		return ValidationFailure{}, false
	}
	if v.IsPositive() {
		return ValidationFailure{}, false
	}
	return ValidationFailure{
		RuleID: rule.ID,
		Type:   rule.Type,
		Detail: fmt.Sprintf("%s=%s is not positive", rule.Target, v),
	}, true
}

func amountOf(result *ExtractionResult, key string) (decimal.Decimal, bool) {
	raw := NormalizeAmount(result.Value(key))
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// DeterministicPass is the zero-cost exit check after the free rules level:
// every critical field already at or above the auto-apply threshold means no
// paid call is worth making.
func DeterministicPass(result *ExtractionResult, tmpl *Template) bool {
	return criticalFieldsAbove(result, tmpl, tmpl.Policy.MinConfidence)
}

// CriticalFieldsPass is the acceptance test the escalation controller runs
// after each paid level: every critical field at the gate confidence, each
// backed by evidence, and the template's minimum (positive) checks holding.
// Any failure escalates.
func CriticalFieldsPass(result *ExtractionResult, tmpl *Template) bool {
	if !criticalFieldsAbove(result, tmpl, tmpl.Policy.GateConfidence) {
		return false
	}
	for _, key := range tmpl.CriticalFields() {
		if f, _ := result.Get(key); f.Evidence == "" {
			return false
		}
	}
	return minimumValidationsPass(result, tmpl)
}

func criticalFieldsAbove(result *ExtractionResult, tmpl *Template, threshold float64) bool {
	for _, key := range tmpl.CriticalFields() {
		f, ok := result.Get(key)
		if !ok || !f.HasValue() || f.Confidence < threshold {
			return false
		}
	}
	return true
}

// minimumValidationsPass evaluates only the positive checks. The full
// validation pass with confidence downgrades runs once, after escalation.
func minimumValidationsPass(result *ExtractionResult, tmpl *Template) bool {
	for _, rule := range tmpl.Validations {
		if rule.Type != ValidatePositive {
			continue
		}
		if _, failed := evalPositive(result, rule); failed {
			return false
		}
	}
	return true
}
