// Package errors defines the stage-level error kinds of the pipeline
// substrate (see spec §7). Each kind is a distinct type implementing
// error (kinds that carry an upstream cause also implement Unwrap), with
// an IsXxx(err) bool classifier, in the shape of
// the teacher's UnretriableError / ObjectNotFoundError pattern.
package errors

import (
	"errors"
	"fmt"
)

// MissingInputError: a required upstream artifact is absent. The stage
// fails and the workflow aborts.
type MissingInputError struct {
	Stage    string
	Filename string
	cause    error
}

func NewMissingInput(stage, filename string, cause error) error {
	return MissingInputError{Stage: stage, Filename: filename, cause: cause}
}

func (e MissingInputError) Error() string {
	return fmt.Sprintf("missing input for stage %q: %s", e.Stage, e.Filename)
}

func (e MissingInputError) Unwrap() error { return e.cause }

func IsMissingInput(err error) bool {
	var target MissingInputError
	return errors.As(err, &target)
}

// InvalidProfileError: the user profile fails schema validation. Fatal
// for the caller.
type InvalidProfileError struct {
	UserID int
	Reason string
	cause  error
}

func NewInvalidProfile(userID int, reason string, cause error) error {
	return InvalidProfileError{UserID: userID, Reason: reason, cause: cause}
}

func (e InvalidProfileError) Error() string {
	return fmt.Sprintf("invalid profile for user %d: %s", e.UserID, e.Reason)
}

func (e InvalidProfileError) Unwrap() error { return e.cause }

func IsInvalidProfile(err error) bool {
	var target InvalidProfileError
	return errors.As(err, &target)
}

// MissingCredentialError: required credentials for a workflow are
// absent. Fatal for the enclosing workflow; the message is actionable
// and includes the missing dotted paths.
type MissingCredentialError struct {
	Workflow string
	Missing  []string // e.g. "huggingface.token"
}

func NewMissingCredential(workflow string, missing []string) error {
	return MissingCredentialError{Workflow: workflow, Missing: missing}
}

func (e MissingCredentialError) Error() string {
	return fmt.Sprintf("workflow %q is missing required credentials: %v", e.Workflow, e.Missing)
}

func IsMissingCredential(err error) bool {
	var target MissingCredentialError
	return errors.As(err, &target)
}

// BudgetExceededError: the user's monthly spend exceeds their limit.
// The workflow aborts at the pre-gate.
type BudgetExceededError struct {
	UserID       int
	MonthlySpend float64
	MonthlyLimit float64
	CurrentMonth string
}

func NewBudgetExceeded(userID int, spend, limit float64, month string) error {
	return BudgetExceededError{UserID: userID, MonthlySpend: spend, MonthlyLimit: limit, CurrentMonth: month}
}

func (e BudgetExceededError) Error() string {
	return fmt.Sprintf("user %d has exceeded their %s budget: spent %.2f of %.2f", e.UserID, e.CurrentMonth, e.MonthlySpend, e.MonthlyLimit)
}

func IsBudgetExceeded(err error) bool {
	var target BudgetExceededError
	return errors.As(err, &target)
}

// DownloadFailedError: the online media adapter's Downloader collaborator
// raised. The upstream message is preserved.
type DownloadFailedError struct {
	URL   string
	cause error
}

func NewDownloadFailed(url string, cause error) error {
	return DownloadFailedError{URL: url, cause: cause}
}

func (e DownloadFailedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("download failed for %s: %s", e.URL, e.cause)
	}
	return fmt.Sprintf("download failed for %s", e.URL)
}

func (e DownloadFailedError) Unwrap() error { return e.cause }

func IsDownloadFailed(err error) bool {
	var target DownloadFailedError
	return errors.As(err, &target)
}

// UnsupportedPlatformError: a non-YouTube host was given in Phase 1.
type UnsupportedPlatformError struct {
	Host string
}

func NewUnsupportedPlatform(host string) error {
	return UnsupportedPlatformError{Host: host}
}

func (e UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s", e.Host)
}

func IsUnsupportedPlatform(err error) bool {
	var target UnsupportedPlatformError
	return errors.As(err, &target)
}

// InvalidMediaReferenceError: the given string is neither a usable local
// path nor a well-formed URL.
type InvalidMediaReferenceError struct {
	Reference string
}

func NewInvalidMediaReference(reference string) error {
	return InvalidMediaReferenceError{Reference: reference}
}

func (e InvalidMediaReferenceError) Error() string {
	return fmt.Sprintf("invalid media reference: %s", e.Reference)
}

func IsInvalidMediaReference(err error) bool {
	var target InvalidMediaReferenceError
	return errors.As(err, &target)
}

// ExternalServiceError: a §6 collaborator raised. The stage fails and
// the upstream cause is preserved.
type ExternalServiceError struct {
	Service string
	cause   error
}

func NewExternalServiceError(service string, cause error) error {
	return ExternalServiceError{Service: service, cause: cause}
}

func (e ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %q failed: %s", e.Service, e.cause)
}

func (e ExternalServiceError) Unwrap() error { return e.cause }

func IsExternalServiceError(err error) bool {
	var target ExternalServiceError
	return errors.As(err, &target)
}

// InvalidConfigError: a config value cannot be typed or is out of range.
// The workflow aborts.
type InvalidConfigError struct {
	Key    string
	Value  string
	Reason string
}

func NewInvalidConfig(key, value, reason string) error {
	return InvalidConfigError{Key: key, Value: value, Reason: reason}
}

func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config %s=%q: %s", e.Key, e.Value, e.Reason)
}

func IsInvalidConfig(err error) bool {
	var target InvalidConfigError
	return errors.As(err, &target)
}

// InternalConsistencyError: e.g. a manifest claims success but a tracked
// output is missing at resume time. Treated as a cache miss; the stage
// re-runs rather than aborting the workflow.
type InternalConsistencyError struct {
	Reason string
}

func NewInternalConsistency(reason string) error {
	return InternalConsistencyError{Reason: reason}
}

func (e InternalConsistencyError) Error() string {
	return fmt.Sprintf("internal consistency violation: %s", e.Reason)
}

func IsInternalConsistency(err error) bool {
	var target InternalConsistencyError
	return errors.As(err, &target)
}

// CancelledError: the user interrupted the run. The current stage is
// finalized failed(reason=cancelled); the process should exit 130.
type CancelledError struct{}

func NewCancelled() error {
	return CancelledError{}
}

func (e CancelledError) Error() string { return "cancelled" }

func IsCancelled(err error) bool {
	var target CancelledError
	return errors.As(err, &target)
}

// ExitCode maps an error returned from the Pipeline Runner to the process
// exit code defined in spec §6: 0 success, 1 unrecoverable failure, 130
// user-cancelled.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if IsCancelled(err) {
		return 130
	}
	return 1
}
