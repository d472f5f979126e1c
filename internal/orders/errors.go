package orders

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Repository lookups return these when a record does not exist.
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrStateNotFound   = errors.New("order state not found")
)

// Reason keys used in ReferentialError.
const (
	ReasonUser       = "user"
	ReasonProducts   = "products"
	ReasonOrderState = "orderState"
)

// Reasons collects every invalid reference of one request, keyed by field.
type Reasons map[string][]string

func (r Reasons) Add(field, format string, args ...any) {
	r[field] = append(r[field], fmt.Sprintf(format, args...))
}

func (r Reasons) Empty() bool { return len(r) == 0 }

// ReferentialError reports unknown or unusable references. It is raised
// before any stock is touched, or from inside a transaction when a locked
// re-check finds insufficient stock.
type ReferentialError struct {
	Reasons Reasons
}

func (e *ReferentialError) Error() string {
	if e == nil || len(e.Reasons) == 0 {
		return "given data is incorrect"
	}
	keys := make([]string, 0, len(e.Reasons))
	for k := range e.Reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Reasons[k], "; "))
	}
	return "given data is incorrect: " + strings.Join(parts, ", ")
}

// StateTransitionError reports a state change, or an item edit, the current
// state does not allow.
type StateTransitionError struct {
	OrderID string
	Current State
	Target  State
	Op      string
}

func (e *StateTransitionError) Error() string {
	if e.Op == "edit" {
		return fmt.Sprintf("order %s in state %s cannot be edited", e.OrderID, e.Current)
	}
	return fmt.Sprintf("status cannot be changed: order %s from %s to %s", e.OrderID, e.Current, e.Target)
}

// NotFoundError reports that an id does not resolve.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: id=%s", e.Kind, e.ID)
}

// StorageError wraps persistence and transaction failures. The operation was
// rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return e.Op + ": storage failure"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsReferentialError(err error) bool {
	var re *ReferentialError
	return errors.As(err, &re)
}

func IsStateTransitionError(err error) bool {
	var se *StateTransitionError
	return errors.As(err, &se)
}

func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// storageErr passes workflow errors through untouched and wraps everything
// else as a StorageError.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsReferentialError(err) || IsStateTransitionError(err) || IsNotFoundError(err) || IsStorageError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
