package prescriptions

import (
	"fmt"
	"slices"
	"time"
)

// FieldError is one rule violation on one field of a record.
type FieldError struct {
	Message string `json:"message"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

const (
	maxControlledDays   = 60
	maxUncontrolledDays = 90
	crmLength           = 6
	cpfLength           = 11
)

var federativeUnits = []string{
	"AC", "AL", "AM", "AP", "BA", "CE", "DF", "ES", "GO",
	"MA", "MG", "MS", "MT", "PA", "PB", "PE", "PI", "PR",
	"RJ", "RN", "RO", "RR", "RS", "SC", "SE", "SP", "TO",
}

// Validator applies the prescription rules against an injectable clock.
type Validator struct {
	now func() time.Time
}

// NewValidator returns a Validator reading the current instant from now.
// A nil now uses time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

var defaultValidator = NewValidator(nil)

// Validate checks r against the wall clock.
func Validate(r Record) []FieldError {
	return defaultValidator.Validate(r)
}

// Validate runs every rule and returns all violations in field order:
// patient_cpf, doctor_crm, doctor_uf, date, duration, notes. A valid
// record yields an empty slice.
func (v *Validator) Validate(r Record) []FieldError {
	errs := make([]FieldError, 0)
	errs = checkCPF(errs, r)
	errs = checkCRM(errs, r)
	errs = checkUF(errs, r)
	errs = v.checkDate(errs, r)
	errs = checkDuration(errs, r)
	errs = checkNotes(errs, r)
	return errs
}

func invalid(field, value string) FieldError {
	return FieldError{
		Message: fmt.Sprintf(`"prescription.%s" can not be invalid such as - '%s'`, field, value),
		Field:   field,
		Value:   value,
	}
}

func empty(field, value string) FieldError {
	return FieldError{
		Message: fmt.Sprintf(`"prescription.%s" can not be empty`, field),
		Field:   field,
		Value:   value,
	}
}

func checkCPF(errs []FieldError, r Record) []FieldError {
	if r.PatientCPF == "" {
		return append(errs, empty(ColumnPatientCPF, r.PatientCPF))
	}
	if !ValidCPF(r.PatientCPF) {
		return append(errs, invalid(ColumnPatientCPF, r.PatientCPF))
	}
	return errs
}

// ValidCPF reports whether s is an 11-digit CPF that is not a same-digit
// sequence and whose two modulo-11 check digits match.
func ValidCPF(s string) bool {
	if len(s) != cpfLength || !isDigits(s) {
		return false
	}

	same := true
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			same = false
			break
		}
	}
	if same {
		return false
	}

	return checkDigit(s[:9], 10) == int(s[9]-'0') &&
		checkDigit(s[:10], 11) == int(s[10]-'0')
}

// checkDigit weights digits from top down to 2 and reduces the sum to a
// single check digit.
func checkDigit(digits string, top int) int {
	sum := 0
	for i := range len(digits) {
		sum += int(digits[i]-'0') * (top - i)
	}
	return (sum * 10 % 11) % 10
}

func checkCRM(errs []FieldError, r Record) []FieldError {
	if r.DoctorCRM == "" {
		return append(errs, empty(ColumnDoctorCRM, r.DoctorCRM))
	}
	if !isDigits(r.DoctorCRM) {
		errs = append(errs, invalid(ColumnDoctorCRM, r.DoctorCRM))
	}
	if len(r.DoctorCRM) != crmLength {
		errs = append(errs, FieldError{
			Message: fmt.Sprintf(`"prescription.doctor_crm" can not be invalid length such as - '%s'`, r.DoctorCRM),
			Field:   ColumnDoctorCRM,
			Value:   r.DoctorCRM,
		})
	}
	return errs
}

func checkUF(errs []FieldError, r Record) []FieldError {
	if !slices.Contains(federativeUnits, r.DoctorUF) {
		return append(errs, invalid(ColumnDoctorUF, r.DoctorUF))
	}
	return errs
}

func (v *Validator) checkDate(errs []FieldError, r Record) []FieldError {
	if !r.dateOK {
		return append(errs, invalid(ColumnDate, r.RawDate))
	}
	if r.Date.After(v.now()) {
		iso := r.Date.UTC().Format("2006-01-02T15:04:05.000Z")
		return append(errs, FieldError{
			Message: fmt.Sprintf(`"prescription.date" can not be in the future such as - '%s'`, iso),
			Field:   ColumnDate,
			Value:   iso,
		})
	}
	return errs
}

func checkDuration(errs []FieldError, r Record) []FieldError {
	if !r.durationOK {
		return append(errs, invalid(ColumnDuration, r.RawDuration))
	}

	value := fmt.Sprint(r.Duration)
	if r.Duration < 0 {
		errs = append(errs, FieldError{
			Message: fmt.Sprintf(`"prescription.duration" can not be less than 0 such as - '%s'`, value),
			Field:   ColumnDuration,
			Value:   value,
		})
	}

	var limit int
	switch r.Controlled {
	case ControlledTrue:
		limit = maxControlledDays
	case ControlledFalse:
		limit = maxUncontrolledDays
	default:
		return errs
	}

	if r.Duration > limit {
		errs = append(errs, FieldError{
			Message: fmt.Sprintf(`"prescription.duration" can not be greater than %d when "prescriptions.controlled" is %s`, limit, r.Controlled),
			Field:   ColumnDuration,
			Value:   value,
		})
	}
	return errs
}

func checkNotes(errs []FieldError, r Record) []FieldError {
	if r.Controlled == ControlledTrue && r.Notes == "" {
		return append(errs, FieldError{
			Message: fmt.Sprintf(`"prescription.notes" can not be empty when "prescriptions.controlled" is %s`, r.Controlled),
			Field:   ColumnNotes,
			Value:   r.Notes,
		})
	}
	return errs
}

func isDigits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
