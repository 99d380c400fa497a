package syncer

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies why a file could not be synced
type Code string

const (
	CodeParseFailure  Code = "PARSE_FAILURE"
	CodeMissingFields Code = "MISSING_FIELDS"
	CodeLookupFailure Code = "LOOKUP_FAILURE"
	CodeLinkFailure   Code = "LINK_FAILURE"
)

// Stage is the pipeline step a failure happened in
type Stage string

const (
	StageLedger Stage = "ledger"
	StageParse  Stage = "parse"
	StageLookup Stage = "lookup"
	StagePlace  Stage = "place"
	StageLink   Stage = "link"
)

// SyncError is the failure of one source file
type SyncError struct {
	Code   Code
	Stage  Stage
	Source string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s at %s: %s: %v", e.Code, e.Stage, e.Source, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Is matches another *SyncError by code, so errors.Is(err, &SyncError{Code: CodeLinkFailure})
// works regardless of source.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

func newSyncError(code Code, stage Stage, source string, err error) *SyncError {
	return &SyncError{Code: code, Stage: stage, Source: source, Err: err}
}

// ErrorPolicy decides what a run does with a failed file
type ErrorPolicy int

const (
	// ContinueAndLog logs the failure and keeps going
	ContinueAndLog ErrorPolicy = iota
	// FailFast stops the run at the first failure
	FailFast
)

func (p ErrorPolicy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "continue"
}

// ParseErrorPolicy accepts the config spellings
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue", "continue-and-log", "log":
		return ContinueAndLog, nil
	case "fail-fast", "failfast", "strict":
		return FailFast, nil
	default:
		return ContinueAndLog, fmt.Errorf("unknown error policy: %q", s)
	}
}

// AsSyncError unwraps err to a *SyncError if it carries one
func AsSyncError(err error) (*SyncError, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
