// Package export renders finalized call records as CSV. Three column
// profiles exist: the full internal set, the billing-system feed, and the
// trimmed per-customer report.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"mediation-server/pkg/database"
)

// Profile selects which columns an export carries.
type Profile string

const (
	// ProfileAll is the internal export with every field.
	ProfileAll Profile = "all"
	// ProfileBilling is the feed for the downstream billing system.
	ProfileBilling Profile = "billing"
	// ProfileCustomer is the report shared with customers; internal routing
	// and carrier identifiers are withheld.
	ProfileCustomer Profile = "customer"
)

// ParseProfile maps a profile name to a Profile.
func ParseProfile(name string) (Profile, error) {
	switch Profile(name) {
	case ProfileAll, ProfileBilling, ProfileCustomer:
		return Profile(name), nil
	}
	return "", fmt.Errorf("unknown export profile %q", name)
}

type column struct {
	name     string
	value    func(*database.CallRecord) string
	billing  bool
	customer bool
}

var columns = []column{
	{"Call-Id", func(r *database.CallRecord) string { return r.CallID }, true, true},
	{"start timestamp", func(r *database.CallRecord) string { return fmtTime(r.TStart) }, true, true},
	{"conn timestamp", func(r *database.CallRecord) string { return fmtTime(r.TConfirm) }, true, true},
	{"end timestamp", func(r *database.CallRecord) string { return fmtTime(r.TEnd) }, true, true},
	{"setup seconds", func(r *database.CallRecord) string { return fmtSeconds(r.SSetup) }, true, true},
	{"conn seconds", func(r *database.CallRecord) string { return fmtSeconds(r.SConnected) }, true, true},
	{"conn seconds (r)", func(r *database.CallRecord) string { return fmtSeconds(r.SConnectedR) }, true, true},
	{"total seconds", func(r *database.CallRecord) string { return fmtSeconds(r.STotal) }, true, true},
	{"from", func(r *database.CallRecord) string { return r.CFrom }, false, false},
	{"from code", func(r *database.CallRecord) string { return r.CFrom5 }, true, false},
	{"to", func(r *database.CallRecord) string { return strVal(r.CTo) }, false, false},
	{"to code", func(r *database.CallRecord) string { return strVal(r.CTo5) }, true, false},
	{"final response code", func(r *database.CallRecord) string { return strconv.Itoa(r.RspCode) }, false, false},
	{"final status", func(r *database.CallRecord) string { return r.FStatus }, true, true},
	{"anum caller-id", func(r *database.CallRecord) string { return strVal(r.ANum) }, true, true},
	{"anum caller-id 2", func(r *database.CallRecord) string { return strVal(r.ANum2) }, true, true},
	{"origination type", func(r *database.CallRecord) string { return strVal(r.AJType) }, true, true},
	{"anum country", func(r *database.CallRecord) string { return strVal(r.ACountry) }, false, false},
	{"anum state", func(r *database.CallRecord) string { return strVal(r.AState) }, true, true},
	{"anum LATA", func(r *database.CallRecord) string { return strVal(r.ALATA) }, true, true},
	{"anum OCN", func(r *database.CallRecord) string { return strVal(r.AOCN) }, true, true},
	{"bnum called num", func(r *database.CallRecord) string { return strVal(r.BNum) }, true, true},
	{"bnum LRN", func(r *database.CallRecord) string { return strVal(r.BLRN) }, true, true},
	{"destination type", func(r *database.CallRecord) string { return strVal(r.BJType) }, false, false},
	{"bnum country", func(r *database.CallRecord) string { return strVal(r.BCountry) }, true, false},
	{"bnum state", func(r *database.CallRecord) string { return strVal(r.BState) }, true, true},
	{"bnum LATA", func(r *database.CallRecord) string { return strVal(r.BLATA) }, true, true},
	{"bnum OCN", func(r *database.CallRecord) string { return strVal(r.BOCN) }, true, true},
	{"jurisdiction", func(r *database.CallRecord) string { return strVal(r.XState) }, true, true},
	{"lcr rule id", func(r *database.CallRecord) string { return strconv.FormatInt(r.RuleID, 10) }, true, false},
	{"lcr pattern", func(r *database.CallRecord) string { return strVal(r.RoutePattern) }, false, false},
	{"route table", func(r *database.CallRecord) string { return fmtSeconds(r.RouteGroup) }, true, false},
	{"price table", func(r *database.CallRecord) string { return strconv.Itoa(r.PTGroup) }, true, false},
	{"route minute price", func(r *database.CallRecord) string { return fmtPrice(r.MPrice) }, true, true},
	{"call price", func(r *database.CallRecord) string { return fmtPrice(&r.CallPrice) }, true, true},
	{"cp nodes", func(r *database.CallRecord) string { return r.CPNodes }, false, false},
}

func profileColumns(profile Profile) []column {
	var cols []column
	for _, c := range columns {
		switch profile {
		case ProfileAll:
			cols = append(cols, c)
		case ProfileBilling:
			if c.billing {
				cols = append(cols, c)
			}
		case ProfileCustomer:
			if c.customer {
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// Write renders the records as CSV with a header row.
func Write(w io.Writer, records []*database.CallRecord, profile Profile) error {
	cols := profileColumns(profile)
	cw := csv.NewWriter(w)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing export header: %w", err)
	}

	row := make([]string, len(cols))
	for _, rec := range records {
		for i, c := range cols {
			row[i] = c.value(rec)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing export row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

// fmtSeconds renders unset durations as 0: billing consumers expect a
// numeric column.
func fmtSeconds(n *int64) string {
	if n == nil {
		return "0"
	}
	return strconv.FormatInt(*n, 10)
}

func fmtPrice(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 4, 64)
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
