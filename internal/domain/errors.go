package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrSearchUnavailable  = errors.New("search unavailable")
	ErrUnresolvedPlatform = errors.New("unresolved platform family")
	ErrPrimitiveConflict  = errors.New("primitive conflict")
	ErrLockFailure        = errors.New("lock failed")
	ErrRemovalFailure     = errors.New("removal failed")
	ErrInvalidAction      = errors.New("invalid action")
	ErrInvalidRecord      = errors.New("invalid record")
	ErrInvalidFilter      = errors.New("invalid filter")
)

// Step names a unit of work done for a record.
type Step string

const (
	StepValidate       Step = "validate"
	StepUserGroup      Step = "user-group"
	StepAccount        Step = "account"
	StepMounts         Step = "mount-check"
	StepSSHDir         Step = "ssh-dir"
	StepAuthorizedKeys Step = "authorized-keys"
	StepPrivateKey     Step = "private-key"
	StepPublicKey      Step = "public-key"
	StepSharedAccount  Step = "shared-account"
	StepManagedGroup   Step = "managed-group"
	StepOpenIDs        Step = "openids"
	StepRemove         Step = "remove"
	StepLock           Step = "lock"
)

// StepError reports which record and which step failed.
type StepError struct {
	Record string
	Step   Step
	Err    error
}

func (e *StepError) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("user %s: %s: %v", e.Record, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
