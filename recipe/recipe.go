// Package recipe defines the editing-recipe document accepted by the
// engine and its schema validation. A recipe describes what the editing
// host should do to a photo; the engine never interprets it beyond
// checking shape and enum membership.
package recipe

import "encoding/json"

// SchemaVersion is the recipe schema version this engine accepts.
const SchemaVersion = "1.0"

// StageKind identifies a development pipeline stage.
type StageKind string

const (
	StageBaseTone        StageKind = "base-tone"
	StageToneCurve       StageKind = "tone-curve"
	StageHSL             StageKind = "hsl"
	StageDetail          StageKind = "detail"
	StageEffects         StageKind = "effects"
	StageCalibration     StageKind = "calibration"
	StageLocalAdjustment StageKind = "local-adjustment"
	StagePresetReference StageKind = "preset-reference"
)

// stageKinds is the closed set of accepted stage kinds.
var stageKinds = map[StageKind]struct{}{
	StageBaseTone:        {},
	StageToneCurve:       {},
	StageHSL:             {},
	StageDetail:          {},
	StageEffects:         {},
	StageCalibration:     {},
	StageLocalAdjustment: {},
	StagePresetReference: {},
}

// TargetScope selects which photos a recipe run applies to.
type TargetScope string

const (
	ScopeSelected        TargetScope = "selected"
	ScopeCollection      TargetScope = "collection"
	ScopeSmartCollection TargetScope = "smart-collection"
	ScopeFolder          TargetScope = "folder"
	ScopeAll             TargetScope = "all"
)

var targetScopes = map[TargetScope]struct{}{
	ScopeSelected:        {},
	ScopeCollection:      {},
	ScopeSmartCollection: {},
	ScopeFolder:          {},
	ScopeAll:             {},
}

// Stage is one ordered step of the development pipeline. Params carries
// stage-specific slider values; their magnitudes are not validated here.
type Stage struct {
	Kind   StageKind       `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Safety controls recovery behavior for a run. Both fields are required
// so a caller must state its intent explicitly.
type Safety struct {
	Snapshot *bool `json:"snapshot"`
	DryRun   *bool `json:"dry_run"`
}

// Target narrows the run to a photo scope. Optional; when absent the
// host decides (typically the current selection).
type Target struct {
	Scope TargetScope `json:"scope"`
	// Duplicate operates on a virtual copy rather than the original.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Export configures an optional export step after development.
type Export struct {
	Enabled     bool   `json:"enabled"`
	Preset      string `json:"preset,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// Recipe is a validated editing configuration. Once a recipe has been
// accepted into a job it is immutable.
type Recipe struct {
	Version  string  `json:"version"`
	Pipeline []Stage `json:"pipeline"`
	Safety   *Safety `json:"safety"`
	Target   *Target `json:"target,omitempty"`
	Export   *Export `json:"export,omitempty"`
}
