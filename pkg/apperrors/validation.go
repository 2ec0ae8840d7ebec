package apperrors

// Validation accumulates field-level validation errors
type Validation struct {
	fields map[string][]string
}

// Add records a message against a field
func (v *Validation) Add(field, message string) {
	if v.fields == nil {
		v.fields = make(map[string][]string)
	}
	v.fields[field] = append(v.fields[field], message)
}

// Merge copies entries from another accumulator
func (v *Validation) Merge(other *Validation) {
	if other == nil {
		return
	}
	for field, msgs := range other.fields {
		for _, msg := range msgs {
			v.Add(field, msg)
		}
	}
}

// HasErrors reports whether any field errors were recorded
func (v *Validation) HasErrors() bool {
	return v != nil && len(v.fields) > 0
}

// Err returns a KindValidation error, or nil when nothing was recorded
func (v *Validation) Err() *Error {
	if !v.HasErrors() {
		return nil
	}
	return &Error{
		Kind:    KindValidation,
		Code:    CodeInvalid,
		Message: "validation failed",
		Fields:  v.fields,
	}
}
