package usecase

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a delivery pipeline failure. The distinction that
// matters downstream is configuration-stage versus transport-stage:
// configuration failures are terminal and never counted as a delivery
// attempt, transport failures feed the retry process.
type ErrorKind int

const (
	// KindConfigurationNotFound means no source yielded a configuration.
	KindConfigurationNotFound ErrorKind = iota
	// KindConfigurationInvalid means a candidate configuration misses
	// minimum required fields.
	KindConfigurationInvalid
	// KindConfigurationService means the external configuration service
	// returned non-200 or was unreachable within the lookup timeout.
	KindConfigurationService
	// KindTransport means the SMTP client failed to send.
	KindTransport
	// KindSettingValidation means a setting's value payload failed
	// structural validation on write.
	KindSettingValidation
)

// MailError is the structured error carried through the delivery pipeline
type MailError struct {
	Kind          ErrorKind
	Message       string
	MissingFields []string // set for KindConfigurationInvalid / KindSettingValidation
	StatusCode    int      // set for KindConfigurationService
	Body          string   // set for KindConfigurationService
	Err           error
}

func (e *MailError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *MailError) Unwrap() error {
	return e.Err
}

// NewConfigurationNotFoundError builds the terminal not-found error
func NewConfigurationNotFoundError() *MailError {
	return &MailError{
		Kind:    KindConfigurationNotFound,
		Message: "SMTP configuration not found",
	}
}

// NewConfigurationInvalidError names the missing required fields in
// canonical order (host, port, username, password).
func NewConfigurationInvalidError(missing []string) *MailError {
	return &MailError{
		Kind:          KindConfigurationInvalid,
		Message:       fmt.Sprintf("minimum SMTP configuration requirements not met, missing: %s", strings.Join(missing, ", ")),
		MissingFields: missing,
	}
}

// NewConfigurationServiceError carries the upstream status and body for
// diagnostics.
func NewConfigurationServiceError(statusCode int, body string, err error) *MailError {
	msg := "configuration service request failed"
	if statusCode != 0 {
		msg = fmt.Sprintf("configuration service returned status %d", statusCode)
	}
	return &MailError{
		Kind:       KindConfigurationService,
		Message:    msg,
		StatusCode: statusCode,
		Body:       body,
		Err:        err,
	}
}

// NewTransportError wraps an SMTP client failure
func NewTransportError(err error) *MailError {
	return &MailError{
		Kind:    KindTransport,
		Message: "failed to send message",
		Err:     err,
	}
}

// NewSettingValidationError rejects a setting write whose payload misses
// required fields.
func NewSettingValidationError(missing []string) *MailError {
	return &MailError{
		Kind:          KindSettingValidation,
		Message:       fmt.Sprintf("setting value is not a valid SMTP configuration, missing: %s", strings.Join(missing, ", ")),
		MissingFields: missing,
	}
}

// ErrorKindOf extracts the kind of a pipeline error; ok is false for errors
// that did not originate from the pipeline.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var mailErr *MailError
	if errors.As(err, &mailErr) {
		return mailErr.Kind, true
	}
	return 0, false
}

// IsConfigurationError reports whether the failure originated from the
// configuration resolution stage rather than the transport stage.
func IsConfigurationError(err error) bool {
	kind, ok := ErrorKindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindConfigurationNotFound, KindConfigurationInvalid, KindConfigurationService:
		return true
	}
	return false
}
