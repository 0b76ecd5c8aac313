// Package modelerr defines the structured error model used while lowering
// operations: bare status errors, model validation errors annotated with
// operand/parameter/dimension locations, and the last-error slot.
package modelerr

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ItemType names the element of an operation that failed validation.
type ItemType int

const (
	ItemNone ItemType = iota
	ItemOperationType
	ItemOperandsCount
	ItemParametersCount
	ItemOperands
	ItemParameters
	ItemOperandType
	ItemOperandMode
	ItemAlignment
	ItemShapeRank
	ItemShapeDimensions
	ItemLayout
	ItemData
	ItemMemoryRegion
	ItemActiveList
)

var itemNames = map[ItemType]string{
	ItemNone:            "none",
	ItemOperationType:   "operation type",
	ItemOperandsCount:   "operands count",
	ItemParametersCount: "parameters count",
	ItemOperands:        "operand",
	ItemParameters:      "parameter",
	ItemOperandType:     "operand type",
	ItemOperandMode:     "operand mode",
	ItemAlignment:       "alignment",
	ItemShapeRank:       "shape rank",
	ItemShapeDimensions: "shape dimension",
	ItemLayout:          "layout",
	ItemData:            "data",
	ItemMemoryRegion:    "memory region",
	ItemActiveList:      "active list",
}

func (i ItemType) String() string {
	if n, ok := itemNames[i]; ok {
		return n
	}
	return fmt.Sprintf("ItemType(%d)", int(i))
}

// ErrorType says how the item violated its constraint.
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorNotTrue
	ErrorNullNotAllowed
	ErrorNullRequired
	ErrorBelowRange
	ErrorAboveRange
	ErrorNotEqual
	ErrorNotInSet
	ErrorNotMultiplicity
	ErrorNotAligned
	ErrorArgumentMissing
	ErrorArgumentInvalid
	ErrorRuntime
	ErrorOther
)

var errorNames = map[ErrorType]string{
	ErrorNone:            "none",
	ErrorNotTrue:         "not true",
	ErrorNullNotAllowed:  "null not allowed",
	ErrorNullRequired:    "null required",
	ErrorBelowRange:      "below range",
	ErrorAboveRange:      "above range",
	ErrorNotEqual:        "not equal",
	ErrorNotInSet:        "not in set",
	ErrorNotMultiplicity: "not a multiple",
	ErrorNotAligned:      "not aligned",
	ErrorArgumentMissing: "argument missing",
	ErrorArgumentInvalid: "argument invalid",
	ErrorRuntime:         "runtime error",
	ErrorOther:           "other",
}

func (e ErrorType) String() string {
	if n, ok := errorNames[e]; ok {
		return n
	}
	return fmt.Sprintf("ErrorType(%d)", int(e))
}

// ModelError locates a validation failure. Unset indexes are -1.
type ModelError struct {
	Item           ItemType
	Reason         ErrorType
	Value          int64
	OperationIndex int
	OperandIndex   int
	ParameterIndex int
	DimensionIndex int
}

// NewModelError returns a ModelError with every location unset.
func NewModelError(item ItemType, reason ErrorType, value int64) ModelError {
	return ModelError{
		Item:           item,
		Reason:         reason,
		Value:          value,
		OperationIndex: -1,
		OperandIndex:   -1,
		ParameterIndex: -1,
		DimensionIndex: -1,
	}
}

func (m ModelError) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (value %d)", m.Item, m.Reason, m.Value)
	if m.OperationIndex >= 0 {
		fmt.Fprintf(&b, " operation=%d", m.OperationIndex)
	}
	if m.OperandIndex >= 0 {
		fmt.Fprintf(&b, " operand=%d", m.OperandIndex)
	}
	if m.ParameterIndex >= 0 {
		fmt.Fprintf(&b, " parameter=%d", m.ParameterIndex)
	}
	if m.DimensionIndex >= 0 {
		fmt.Fprintf(&b, " dimension=%d", m.DimensionIndex)
	}
	return b.String()
}

// StatusError is a failure that only carries a status code.
type StatusError struct {
	Status Status
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Detail
}

// NewStatus returns a *StatusError.
func NewStatus(s Status, format string, args ...any) error {
	return &StatusError{Status: s, Detail: fmt.Sprintf(format, args...)}
}

// ValidationError is a status plus the structured location of the failure.
type ValidationError struct {
	Status Status
	Model  ModelError
	// Err is the cause when a non-validation error crossed a boundary.
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Status, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Model)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid returns a *ValidationError with no location filled in.
func Invalid(s Status, item ItemType, reason ErrorType, value int64) *ValidationError {
	return &ValidationError{Status: s, Model: NewModelError(item, reason, value)}
}

// ErrLookupMiss is the internal key-not-found condition of dispatch tables.
// It never leaves a dispatch boundary; see TranslateLookupMiss.
var ErrLookupMiss = errors.New("key not found")

// TranslateLookupMiss maps a lookup miss onto StatusNotImplemented.
func TranslateLookupMiss(err error) error {
	if errors.Is(err, ErrLookupMiss) {
		return &StatusError{Status: StatusNotImplemented, Detail: err.Error()}
	}
	return err
}

// StatusOf extracts the status carried by err.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Status
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusUnknown
}

// AsModelError extracts the structured error carried by err.
func AsModelError(err error) (ModelError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Model, true
	}
	return ModelError{}, false
}

// Slot holds the most recent ModelError. It is overwritten on every
// structured failure and cleared when read with Take.
type Slot struct {
	mu  sync.Mutex
	err ModelError
	set bool
}

// Set overwrites the slot.
func (s *Slot) Set(m ModelError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = m
	s.set = true
}

// Record stores the ModelError carried by err, if any.
func (s *Slot) Record(err error) bool {
	m, ok := AsModelError(err)
	if ok {
		s.Set(m)
	}
	return ok
}

// Take returns the stored error and clears the slot.
func (s *Slot) Take() (ModelError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.err, s.set
	s.err, s.set = ModelError{}, false
	return m, ok
}

// peek returns the stored error without clearing it.
func (s *Slot) peek() (ModelError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err, s.set
}
