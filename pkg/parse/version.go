package parse

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

// SchemaVersions declares, per source, the semver constraint this build's
// parser supports. Some published feeds embed a schema/format version in an
// out-of-band manifest; before parsing, the orchestrator checks the
// observed version against this constraint, the same negotiation shape the
// teacher's registry.PostgresRegistry and trust.PackLoader use for module
// and pack compatibility checks.
var SchemaVersions = map[sanctions.Source]string{
	sanctions.SourceOFAC:  ">= 1.0.0, < 2.0.0",
	sanctions.SourceUN:    ">= 1.0.0, < 2.0.0",
	sanctions.SourceEU:    ">= 1.0.0, < 2.0.0",
	sanctions.SourceUKHMT: ">= 1.0.0, < 2.0.0",
}

// CheckVersion validates observedVersion against the constraint registered
// for source. An empty observedVersion is always accepted (most feeds do
// not publish one); a non-empty version that fails the constraint is
// rejected before parsing is attempted.
func CheckVersion(source sanctions.Source, observedVersion string) error {
	if observedVersion == "" {
		return nil
	}
	constraintStr, ok := SchemaVersions[source]
	if !ok {
		return nil
	}
	constraint, err := semver.NewConstraint(constraintStr)
	if err != nil {
		return fmt.Errorf("parse: invalid version constraint for %s: %w", source, err)
	}
	v, err := semver.NewVersion(observedVersion)
	if err != nil {
		return fmt.Errorf("parse: unparsable schema version %q for %s: %w", observedVersion, source, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("parse: schema version %s for %s does not satisfy %s", v, source, constraintStr)
	}
	return nil
}
