// Package risk implements component D: risk classification of a detected
// change, per spec §4.D. The field-importance rule set for MODIFIED changes
// is expressed as compiled CEL programs, following the teacher's
// governance.PolicyEngine pattern (a CEL env with a fixed set of declared
// variables, one compiled cel.Program per rule, fail-closed on evaluation
// error). The rule expressions are fixed string literals compiled by New.
package risk

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/sanctionswatch/core/pkg/diff"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

// Classifier assigns RiskLevel to Changes. It is a pure function; no I/O.
type Classifier struct {
	env          *cel.Env
	criticalRule cel.Program
	highRule     cel.Program
	mediumRule   cel.Program
}

// New compiles the field-importance CEL rules and returns a ready
// Classifier.
func New() (*Classifier, error) {
	env, err := cel.NewEnv(
		cel.Variable("changed_fields", cel.ListType(cel.StringType)),
		cel.Variable("field_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("risk: cel env: %w", err)
	}

	critical, err := compile(env, `changed_fields.exists(f, f in ["name","programs","entity_type"])`)
	if err != nil {
		return nil, fmt.Errorf("risk: critical rule: %w", err)
	}
	high, err := compile(env, `changed_fields.exists(f, f in ["addresses","aliases","nationalities"])`)
	if err != nil {
		return nil, fmt.Errorf("risk: high rule: %w", err)
	}
	medium, err := compile(env, `field_count >= 3 || changed_fields.exists(f, f in ["dates_of_birth","places_of_birth","remarks"])`)
	if err != nil {
		return nil, fmt.Errorf("risk: medium rule: %w", err)
	}

	return &Classifier{env: env, criticalRule: critical, highRule: high, mediumRule: medium}, nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return env.Program(ast)
}

// Classify assigns a RiskLevel to a Change. newEntity is the post-change
// entity state and is required for ADDED changes (the added-entity rule
// inspects its programs and entity type); it is ignored for REMOVED and
// MODIFIED, which classify from the Change's field diffs alone.
func (cl *Classifier) Classify(c diff.Change, newEntity *sanctions.SanctionedEntity) sanctions.RiskLevel {
	switch c.ChangeType {
	case sanctions.ChangeRemoved:
		return sanctions.RiskCritical
	case sanctions.ChangeAdded:
		return cl.classifyAdded(newEntity)
	case sanctions.ChangeModified:
		return cl.classifyModified(c)
	default:
		return sanctions.RiskLow
	}
}

// classifyAdded implements spec §4.D's ADDED rule: base MEDIUM, raised to
// CRITICAL if any program is in the fixed high-risk set, else raised to HIGH
// if the entity is a PERSON.
func (cl *Classifier) classifyAdded(entity *sanctions.SanctionedEntity) sanctions.RiskLevel {
	level := sanctions.RiskMedium
	for _, p := range entity.Programs {
		if sanctions.HighRiskPrograms[p] {
			level = sanctions.Higher(level, sanctions.RiskCritical)
			break
		}
	}
	if level != sanctions.RiskCritical && entity.EntityType == sanctions.EntityPerson {
		level = sanctions.Higher(level, sanctions.RiskHigh)
	}
	return level
}

func (cl *Classifier) classifyModified(c diff.Change) sanctions.RiskLevel {
	fields := make([]string, 0, len(c.FieldChanges))
	for _, fc := range c.FieldChanges {
		fields = append(fields, fc.FieldName)
	}
	input := map[string]interface{}{
		"changed_fields": fields,
		"field_count":    int64(len(fields)),
	}

	if evalBool(cl.criticalRule, input) {
		return sanctions.RiskCritical
	}
	if evalBool(cl.highRule, input) {
		return sanctions.RiskHigh
	}
	if evalBool(cl.mediumRule, input) {
		return sanctions.RiskMedium
	}
	return sanctions.RiskLow
}

// evalBool evaluates a compiled rule and fails closed (false) on any
// evaluation error, matching the teacher's PolicyEngine.Evaluate
// fail-closed default.
func evalBool(prg cel.Program, input map[string]interface{}) bool {
	out, _, err := prg.Eval(input)
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
