// Package prescriptions defines prescription records, their domain
// validation rules, and their persistence.
package prescriptions

import (
	"strconv"
	"strings"
	"time"
)

// Controlled is the boolean-like controlled-substance flag as written in
// the source file.
type Controlled string

const (
	ControlledTrue    Controlled = "True"
	ControlledFalse   Controlled = "False"
	ControlledUnknown Controlled = ""
)

// ParseControlled maps "True"/"False" (any case) to the flag. Anything else
// is ControlledUnknown, which no duration cap or notes rule applies to.
func ParseControlled(s string) Controlled {
	switch {
	case strings.EqualFold(strings.TrimSpace(s), "true"):
		return ControlledTrue
	case strings.EqualFold(strings.TrimSpace(s), "false"):
		return ControlledFalse
	default:
		return ControlledUnknown
	}
}

// Column names expected in the CSV header.
const (
	ColumnID         = "id"
	ColumnDate       = "date"
	ColumnPatientCPF = "patient_cpf"
	ColumnDoctorCRM  = "doctor_crm"
	ColumnDoctorUF   = "doctor_uf"
	ColumnControlled = "controlled"
	ColumnMedication = "medication"
	ColumnDosage     = "dosage"
	ColumnFrequency  = "frequency"
	ColumnDuration   = "duration"
	ColumnNotes      = "notes"
)

// Record is one prescription row. Parsed fields keep their raw text so
// validation errors can report the value exactly as supplied.
type Record struct {
	ID          string     `json:"id"`
	Date        time.Time  `json:"date"`
	RawDate     string     `json:"-"`
	PatientCPF  string     `json:"patient_cpf"`
	DoctorCRM   string     `json:"doctor_crm"`
	DoctorUF    string     `json:"doctor_uf"`
	Controlled  Controlled `json:"controlled"`
	Medication  string     `json:"medication"`
	Dosage      string     `json:"dosage"`
	Frequency   string     `json:"frequency"`
	Duration    int        `json:"duration"`
	RawDuration string     `json:"-"`
	Notes       string     `json:"notes,omitempty"`

	dateOK     bool
	durationOK bool
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// FromRow builds a Record from a row keyed by column name. Missing columns
// read as empty strings.
func FromRow(values map[string]string) Record {
	r := Record{
		ID:          values[ColumnID],
		RawDate:     values[ColumnDate],
		PatientCPF:  strings.TrimSpace(values[ColumnPatientCPF]),
		DoctorCRM:   strings.TrimSpace(values[ColumnDoctorCRM]),
		DoctorUF:    strings.TrimSpace(values[ColumnDoctorUF]),
		Controlled:  ParseControlled(values[ColumnControlled]),
		Medication:  values[ColumnMedication],
		Dosage:      values[ColumnDosage],
		Frequency:   values[ColumnFrequency],
		RawDuration: values[ColumnDuration],
		Notes:       strings.TrimSpace(values[ColumnNotes]),
	}

	r.Date, r.dateOK = parseDate(r.RawDate)

	if n, err := strconv.Atoi(strings.TrimSpace(r.RawDuration)); err == nil {
		r.Duration, r.durationOK = n, true
	}

	return r
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
