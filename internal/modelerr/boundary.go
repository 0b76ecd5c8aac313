package modelerr

import "errors"

// ForOperand runs fn and tags any failure with the operand index.
// Bare status errors are promoted to validation errors and any other error
// becomes a StatusUnknown validation error that wraps it. Nothing is
// downgraded to a less specific error.
func ForOperand(index int, fn func() error) error {
	return boundary(fn, ItemOperands, index, func(m *ModelError) *int { return &m.OperandIndex })
}

// ForParameter runs fn and tags any failure with the parameter index.
func ForParameter(index int, fn func() error) error {
	return boundary(fn, ItemParameters, index, func(m *ModelError) *int { return &m.ParameterIndex })
}

// ForDimension runs fn and tags any failure with the dimension index.
func ForDimension(index int, fn func() error) error {
	return boundary(fn, ItemShapeDimensions, index, func(m *ModelError) *int { return &m.DimensionIndex })
}

// ForOperation runs fn and tags any failure with the operation index.
func ForOperation(index int, fn func() error) error {
	return boundary(fn, ItemOperationType, index, func(m *ModelError) *int { return &m.OperationIndex })
}

func boundary(fn func() error, item ItemType, index int, field func(*ModelError) *int) error {
	err := fn()
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		tagged := *ve
		if f := field(&tagged.Model); *f < 0 {
			*f = index
		}
		return &tagged
	}
	var se *StatusError
	if errors.As(err, &se) {
		tagged := Invalid(se.Status, item, ErrorRuntime, int64(se.Status))
		*field(&tagged.Model) = index
		return tagged
	}
	tagged := Invalid(StatusUnknown, item, ErrorRuntime, 0)
	tagged.Err = err
	*field(&tagged.Model) = index
	return tagged
}

// ExpectInRange checks min <= value <= max.
func ExpectInRange(value, min, max int64, s Status, item ItemType) error {
	if value < min {
		return Invalid(s, item, ErrorBelowRange, value)
	}
	if value > max {
		return Invalid(s, item, ErrorAboveRange, value)
	}
	return nil
}

// ExpectMultiple checks that value is a multiple of m. m <= 1 always passes.
func ExpectMultiple(value, m int64, s Status, item ItemType) error {
	if m > 1 && value%m != 0 {
		return Invalid(s, item, ErrorNotMultiplicity, value)
	}
	return nil
}

// ExpectEqual checks value == expected.
func ExpectEqual(value, expected int64, s Status, item ItemType) error {
	if value != expected {
		return Invalid(s, item, ErrorNotEqual, value)
	}
	return nil
}

// ExpectTrue fails with ErrorNotTrue when cond is false.
func ExpectTrue(cond bool, s Status, item ItemType, value int64) error {
	if !cond {
		return Invalid(s, item, ErrorNotTrue, value)
	}
	return nil
}

// ExpectInSet checks that value is one of set.
func ExpectInSet[T comparable](value T, set []T, s Status, item ItemType, numeric int64) error {
	for _, v := range set {
		if v == value {
			return nil
		}
	}
	return Invalid(s, item, ErrorNotInSet, numeric)
}

// Missing reports an absent mandatory operand.
func Missing(operand int) *ValidationError {
	e := Invalid(StatusNullArgumentNotAllowed, ItemOperands, ErrorArgumentMissing, int64(operand))
	e.Model.OperandIndex = operand
	return e
}

// ExpectActiveList checks 1 <= count <= rows for a sparse output index list.
func ExpectActiveList(count, rows int) error {
	return ExpectInRange(int64(count), 1, int64(rows), StatusActiveListIndices, ItemActiveList)
}
