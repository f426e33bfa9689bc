package domain

import "fmt"

// Action is what the account primitive is asked to do with an account.
type Action string

const (
	ActionCreate Action = "create"
	ActionRemove Action = "remove"
	ActionLock   Action = "lock"
	ActionModify Action = "modify"
	// ActionManage is accepted as an alias of ActionModify.
	ActionManage Action = "manage"
)

// Validate rejects actions the account primitive does not know.
func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionRemove, ActionLock, ActionModify, ActionManage:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidAction, string(a))
}

// Normalize folds aliases into their canonical action.
func (a Action) Normalize() Action {
	if a == ActionManage {
		return ActionModify
	}
	return a
}

// ActionPtr is a convenience for building records.
func ActionPtr(a Action) *Action {
	return &a
}
