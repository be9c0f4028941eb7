package recipe

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ValidationError reports the first schema violation found, qualified by
// the JSON path of the offending field.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("recipe: %s: %s", e.Path, e.Message)
}

func invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Validate checks a recipe against the schema. It is pure and total:
// a nil return means the recipe is acceptable. Only shape and enum
// membership are checked; parameter magnitudes inside stages are the
// editing host's concern.
func Validate(r *Recipe) *ValidationError {
	if r == nil {
		return invalid("", "recipe is nil")
	}

	if r.Version == "" {
		return invalid("version", "missing required field")
	}
	if r.Version != SchemaVersion {
		return invalid("version", "unsupported schema version %q, want %q", r.Version, SchemaVersion)
	}

	if len(r.Pipeline) == 0 {
		return invalid("pipeline", "missing or empty; at least one stage is required")
	}
	for i, stage := range r.Pipeline {
		if stage.Kind == "" {
			return invalid(fmt.Sprintf("pipeline[%d].kind", i), "missing required field")
		}
		if _, ok := stageKinds[stage.Kind]; !ok {
			return invalid(fmt.Sprintf("pipeline[%d].kind", i), "unknown stage kind %q", stage.Kind)
		}
	}

	if r.Safety == nil {
		return invalid("safety", "missing required field")
	}
	if r.Safety.Snapshot == nil {
		return invalid("safety.snapshot", "missing required field")
	}
	if r.Safety.DryRun == nil {
		return invalid("safety.dry_run", "missing required field")
	}

	if r.Target != nil {
		if r.Target.Scope == "" {
			return invalid("target.scope", "missing required field")
		}
		if _, ok := targetScopes[r.Target.Scope]; !ok {
			return invalid("target.scope", "unknown target scope %q", r.Target.Scope)
		}
	}

	if r.Export != nil && r.Export.Enabled && r.Export.Preset == "" {
		return invalid("export.preset", "required when export is enabled")
	}

	return nil
}

// Parse decodes a JSON document and validates it. Type mismatches from
// the decoder are reported with the same path-qualified shape as schema
// violations.
func Parse(data []byte) (*Recipe, *ValidationError) {
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, invalid(typeErr.Field, "expected %s, got %s", typeErr.Type, typeErr.Value)
		}
		return nil, invalid("", "malformed JSON: %v", err)
	}

	if verr := Validate(&r); verr != nil {
		return nil, verr
	}
	return &r, nil
}
