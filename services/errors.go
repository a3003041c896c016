// services/errors.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"quest-reward-system/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrorKind classifies a domain failure. Kinds are stable strings so the
// HTTP layer and clients can switch on them.
type ErrorKind string

const (
	KindInvalidState        ErrorKind = "INVALID_STATE"
	KindCapExceeded         ErrorKind = "CAP_EXCEEDED"
	KindAlreadyCheckedIn    ErrorKind = "ALREADY_CHECKED_IN"
	KindAlreadyInvited      ErrorKind = "ALREADY_INVITED"
	KindInvalidDate         ErrorKind = "INVALID_DATE"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindInvalidAddress      ErrorKind = "INVALID_DESTINATION_ADDRESS"
	KindInviterNotFound     ErrorKind = "INVITER_NOT_FOUND"
	KindSelfInvite          ErrorKind = "SELF_INVITE"
	KindRiskBlocked         ErrorKind = "RISK_BLOCKED"
	KindInviteCapReached    ErrorKind = "INVITE_CAP_REACHED"
	KindBelowMinimum        ErrorKind = "AMOUNT_BELOW_MINIMUM"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindInvalidInput        ErrorKind = "INVALID_INPUT"
)

// DomainError is a rule violation. It is returned to the caller as-is and
// must never be retried.
type DomainError struct {
	Kind      ErrorKind
	Reason    string
	RiskLevel models.RiskLevel
	Details   map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches sentinels by kind. An invite cap hit also matches ErrCapExceeded.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindCapExceeded && e.Kind == KindInviteCapReached
}

var (
	ErrInvalidState        = &DomainError{Kind: KindInvalidState}
	ErrCapExceeded         = &DomainError{Kind: KindCapExceeded}
	ErrAlreadyCheckedIn    = &DomainError{Kind: KindAlreadyCheckedIn}
	ErrAlreadyInvited      = &DomainError{Kind: KindAlreadyInvited}
	ErrInvalidDate         = &DomainError{Kind: KindInvalidDate}
	ErrInsufficientBalance = &DomainError{Kind: KindInsufficientBalance}
	ErrInvalidAddress      = &DomainError{Kind: KindInvalidAddress}
	ErrInviterNotFound     = &DomainError{Kind: KindInviterNotFound}
	ErrSelfInvite          = &DomainError{Kind: KindSelfInvite}
	ErrRiskBlocked         = &DomainError{Kind: KindRiskBlocked}
	ErrInviteCapReached    = &DomainError{Kind: KindInviteCapReached}
	ErrBelowMinimum        = &DomainError{Kind: KindBelowMinimum}
	ErrNotFound            = &DomainError{Kind: KindNotFound}
	ErrInvalidInput        = &DomainError{Kind: KindInvalidInput}
)

func domainErr(kind ErrorKind, format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// AsDomainError unwraps err to a *DomainError when it is one.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// InfraError wraps a storage or collaborator failure. These are transient
// from the caller's point of view and may be retried.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *InfraError) Unwrap() error { return e.Err }

// infra wraps err unless it is nil or already classified.
func infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	var ie *InfraError
	if errors.As(err, &de) || errors.As(err, &ie) {
		return err
	}
	return &InfraError{Op: op, Err: err}
}

// IsInfraError reports whether err is a retryable infrastructure failure.
func IsInfraError(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

// isUniqueViolation recognises duplicate-key errors from Postgres (translated
// by gorm or raw pgconn) and SQLite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
