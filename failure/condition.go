// Package failure defines the closed taxonomy of execution failures and
// the classifier that maps each condition onto a category, severity, and
// recovery strategy. The engine never retries an unclassified error.
package failure

import "fmt"

// Condition names a raised failure. The set is closed: adding a kind is a
// compile-time addition here plus a classification table entry, not an
// open error hierarchy.
type Condition string

const (
	CondStorageRead      Condition = "storage-read"
	CondStorageWrite     Condition = "storage-write"
	CondDiskSpace        Condition = "disk-space"
	CondInferenceTimeout Condition = "inference-timeout"
	CondInferenceOOM     Condition = "inference-oom"
	CondCatalogLock      Condition = "catalog-lock"
	CondExportCodec      Condition = "export-codec"
	CondRemoteSync       Condition = "remote-sync"
	CondCPUOverload      Condition = "cpu-overload"
	CondThermalOverload  Condition = "thermal-overload"
	CondUnknown          Condition = "unknown"
)

// Failure is a raised failure condition with context. It implements error
// so process functions can return it directly.
type Failure struct {
	Condition Condition `json:"condition"`
	Message   string    `json:"message,omitempty"`
}

// New creates a Failure for the given condition.
func New(cond Condition, format string, args ...any) *Failure {
	return &Failure{Condition: cond, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Condition)
	}
	return fmt.Sprintf("%s: %s", f.Condition, f.Message)
}

// Category groups conditions by subsystem.
type Category string

const (
	CategoryIO        Category = "IO"
	CategoryInference Category = "INFERENCE"
	CategoryHostLock  Category = "HOST_LOCK"
	CategoryExport    Category = "EXPORT"
	CategorySync      Category = "SYNC"
	CategoryResource  Category = "RESOURCE"
	CategoryUnknown   Category = "UNKNOWN"
)

// Severity orders failures by operational impact.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(data []byte) error {
	switch string(data) {
	case "LOW":
		*s = SeverityLow
	case "MEDIUM":
		*s = SeverityMedium
	case "HIGH":
		*s = SeverityHigh
	case "CRITICAL":
		*s = SeverityCritical
	default:
		return fmt.Errorf("failure: unknown severity %q", data)
	}
	return nil
}

// Strategy names the recovery policy attached to a classification.
type Strategy string

const (
	RetryImmediate     Strategy = "RETRY_IMMEDIATE"
	RetryWithBackoff   Strategy = "RETRY_WITH_BACKOFF"
	RetryLimited       Strategy = "RETRY_LIMITED"
	ManualIntervention Strategy = "MANUAL_INTERVENTION"
	FatalAbort         Strategy = "FATAL_ABORT"
	DegradeAndContinue Strategy = "DEGRADE_AND_CONTINUE"
)

// Classification is the category/severity/strategy triad assigned to a
// failure. Produced fresh per failure and never mutated.
type Classification struct {
	Condition Condition `json:"condition"`
	Category  Category  `json:"category"`
	Severity  Severity  `json:"severity"`
	Strategy  Strategy  `json:"strategy"`
}

// table is the exhaustive Condition → Classification mapping.
//
// Resource exhaustion (disk, memory, thermal) is never blindly retried:
// retrying without operator intervention cannot succeed, so those map to
// MANUAL_INTERVENTION or FATAL_ABORT at high/critical severity. Transient
// conditions (timeouts, lock contention, sync hiccups) back off and retry.
// A codec failure on export degrades: the develop itself succeeded, so the
// run finishes with a fallback encoding rather than failing the job.
var table = map[Condition]Classification{
	CondStorageRead:      {CondStorageRead, CategoryIO, SeverityMedium, RetryWithBackoff},
	CondStorageWrite:     {CondStorageWrite, CategoryIO, SeverityHigh, RetryLimited},
	CondDiskSpace:        {CondDiskSpace, CategoryIO, SeverityCritical, ManualIntervention},
	CondInferenceTimeout: {CondInferenceTimeout, CategoryInference, SeverityLow, RetryWithBackoff},
	CondInferenceOOM:     {CondInferenceOOM, CategoryInference, SeverityHigh, ManualIntervention},
	CondCatalogLock:      {CondCatalogLock, CategoryHostLock, SeverityLow, RetryWithBackoff},
	CondExportCodec:      {CondExportCodec, CategoryExport, SeverityMedium, DegradeAndContinue},
	CondRemoteSync:       {CondRemoteSync, CategorySync, SeverityLow, RetryWithBackoff},
	CondCPUOverload:      {CondCPUOverload, CategoryResource, SeverityHigh, ManualIntervention},
	CondThermalOverload:  {CondThermalOverload, CategoryResource, SeverityCritical, FatalAbort},
	CondUnknown:          {CondUnknown, CategoryUnknown, SeverityMedium, RetryLimited},
}

// Conditions returns all known conditions. Useful for exhaustiveness checks.
func Conditions() []Condition {
	out := make([]Condition, 0, len(table))
	for c := range table {
		out = append(out, c)
	}
	return out
}
