package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-contactgraph/pkg/validation"
)

// Column layouts of the flat files, in positional order.
var (
	PersonColumns = []string{
		"pid", "hid", "age", "age_group", "gender", "county_fips",
		"home_latitude", "home_longitude", "admin1", "admin2", "admin3", "admin4",
	}
	ContactColumns = []string{"targetPID", "targetActivity", "sourcePID", "sourceActivity", "duration"}
	OutputColumns  = []string{"tick", "pid", "exit_state", "contact_pid", "lid"}
)

// ParsePerson coerces one person-trait row. An age_group cell, when
// present, must agree with the bucket derived from age.
func ParsePerson(record []string) (Person, error) {
	var p Person
	if len(record) != len(PersonColumns) {
		return p, rowError("expected %d columns, got %d", len(PersonColumns), len(record))
	}

	var err error
	if p.PID, err = parseInt64(record, 0); err != nil {
		return p, err
	}
	if p.HID, err = parseInt64(record, 1); err != nil {
		return p, err
	}
	if p.Age, err = parseInt(record, 2); err != nil {
		return p, err
	}
	derived, err := AgeGroupFor(p.Age)
	if err != nil {
		return p, columnError(PersonColumns[2], err)
	}
	if given := strings.TrimSpace(record[3]); given != "" && AgeGroup(given) != derived {
		return p, columnError(PersonColumns[3],
			fmt.Errorf("age group %q does not match age %d (want %q)", given, p.Age, derived))
	}
	p.AgeGroup = derived
	if p.Gender, err = parseInt(record, 4); err != nil {
		return p, err
	}
	p.FIPS = strings.TrimSpace(record[5])
	if p.HomeLat, err = parseFloat(record, 6); err != nil {
		return p, err
	}
	if p.HomeLon, err = parseFloat(record, 7); err != nil {
		return p, err
	}
	p.Admin1 = strings.TrimSpace(record[8])
	p.Admin2 = strings.TrimSpace(record[9])
	p.Admin3 = strings.TrimSpace(record[10])
	p.Admin4 = strings.TrimSpace(record[11])

	if err := validation.ValidateRecord(&p); err != nil {
		return p, &ParseError{Cause: err}
	}
	return p, nil
}

// ParseContact coerces one contact-network row. occur and seq are not
// part of the row and are supplied by the caller. A trailing LID column,
// as written by the with_lid network exports, is accepted and ignored.
func ParseContact(record []string, occur int, seq int64) (ContactEdge, error) {
	e := ContactEdge{Occur: occur, Seq: seq}
	if n := len(record); n != len(ContactColumns) && n != len(ContactColumns)+1 {
		return e, rowError("expected %d or %d columns, got %d", len(ContactColumns), len(ContactColumns)+1, n)
	}

	var err error
	if e.TargetPID, err = parseInt64With(record, 0, ContactColumns); err != nil {
		return e, err
	}
	e.TargetActivity = strings.TrimSpace(record[1])
	if e.SourcePID, err = parseInt64With(record, 2, ContactColumns); err != nil {
		return e, err
	}
	e.SourceActivity = strings.TrimSpace(record[3])
	d, err := parseInt64With(record, 4, ContactColumns)
	if err != nil {
		return e, err
	}
	e.Duration = int(d)

	if err := validation.ValidateRecord(&e); err != nil {
		return e, &ParseError{Cause: err}
	}
	return e, nil
}

// ParseOutput coerces one simulation-output row, translating the -1
// sentinel of contact_pid and lid to nil.
func ParseOutput(record []string) (OutputRow, error) {
	var r OutputRow
	if len(record) != len(OutputColumns) {
		return r, rowError("expected %d columns, got %d", len(OutputColumns), len(record))
	}

	tick, err := parseInt64With(record, 0, OutputColumns)
	if err != nil {
		return r, err
	}
	r.Tick = int(tick)
	if r.PID, err = parseInt64With(record, 1, OutputColumns); err != nil {
		return r, err
	}
	r.ExitState = strings.TrimSpace(record[2])
	contact, err := parseInt64With(record, 3, OutputColumns)
	if err != nil {
		return r, err
	}
	r.ContactPID = NullableID(contact)
	lid, err := parseInt64With(record, 4, OutputColumns)
	if err != nil {
		return r, err
	}
	r.LID = NullableID(lid)

	if err := validation.ValidateRecord(&r); err != nil {
		return r, &ParseError{Cause: err}
	}
	return r, nil
}

// FormatOutput renders r as a file row, restoring the -1 sentinel.
func FormatOutput(r OutputRow) []string {
	return []string{
		strconv.Itoa(r.Tick),
		strconv.FormatInt(r.PID, 10),
		r.ExitState,
		strconv.FormatInt(SentinelID(r.ContactPID), 10),
		strconv.FormatInt(SentinelID(r.LID), 10),
	}
}

// FormatPerson renders p as a person-trait file row.
func FormatPerson(p Person) []string {
	return []string{
		strconv.FormatInt(p.PID, 10),
		strconv.FormatInt(p.HID, 10),
		strconv.Itoa(p.Age),
		string(p.AgeGroup),
		strconv.Itoa(p.Gender),
		p.FIPS,
		strconv.FormatFloat(p.HomeLat, 'f', -1, 64),
		strconv.FormatFloat(p.HomeLon, 'f', -1, 64),
		p.Admin1, p.Admin2, p.Admin3, p.Admin4,
	}
}

// FormatContact renders e as a contact-network file row.
func FormatContact(e ContactEdge) []string {
	return []string{
		strconv.FormatInt(e.TargetPID, 10),
		e.TargetActivity,
		strconv.FormatInt(e.SourcePID, 10),
		e.SourceActivity,
		strconv.Itoa(e.Duration),
	}
}

func parseInt64(record []string, i int) (int64, error) {
	return parseInt64With(record, i, PersonColumns)
}

func parseInt64With(record []string, i int, columns []string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(record[i]), 10, 64)
	if err != nil {
		return 0, columnError(columns[i], err)
	}
	return v, nil
}

func parseInt(record []string, i int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(record[i]))
	if err != nil {
		return 0, columnError(PersonColumns[i], err)
	}
	return v, nil
}

func parseFloat(record []string, i int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
	if err != nil {
		return 0, columnError(PersonColumns[i], err)
	}
	return v, nil
}
