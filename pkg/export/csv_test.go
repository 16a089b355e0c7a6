package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediation-server/pkg/database"
)

func strp(s string) *string     { return &s }
func int64p(n int64) *int64     { return &n }
func floatp(f float64) *float64 { return &f }

func testRecord() *database.CallRecord {
	start := time.Date(2013, 6, 19, 22, 22, 14, 0, time.UTC)
	confirm := start.Add(3 * time.Second)
	end := confirm.Add(6 * time.Second)
	return &database.CallRecord{
		ID:          1,
		CallID:      "1688359106_6289544@10.30.11.61",
		CFrom:       "a22",
		CFrom5:      "39781",
		CTo:         strp("erl"),
		CTo5:        strp("24766"),
		RspCode:     200,
		FStatus:     "OK",
		TStart:      &start,
		TConfirm:    &confirm,
		TEnd:        &end,
		SSetup:      int64p(3),
		SConnected:  int64p(6),
		SConnectedR: int64p(6),
		STotal:      int64p(9),
		ANum:        strp("15412234567"),
		AState:      strp("OR"),
		ALATA:       strp("670"),
		AOCN:        strp("7052"),
		AJType:      strp("D"),
		BNum:        strp("15039431234"),
		BLRN:        strp("15039431234"),
		BCountry:    strp("US"),
		BState:      strp("OR"),
		BLATA:       strp("672"),
		BOCN:        strp("9140"),
		BJType:      strp("D"),
		XState:      strp("intra"),
		CallPrice:   0.000159,
		RuleID:      204012,
		PTGroup:     9,
		CPNodes:     "pp01",
		MPrice:      floatp(0.00159),
	}
}

func parseCSV(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	rows, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteAllProfile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []*database.CallRecord{testRecord()}, ProfileAll))

	rows := parseCSV(t, &buf)
	require.Len(t, rows, 2)
	require.Len(t, rows[0], len(columns))

	byName := make(map[string]string, len(rows[0]))
	for i, name := range rows[0] {
		byName[name] = rows[1][i]
	}
	require.Equal(t, "1688359106_6289544@10.30.11.61", byName["Call-Id"])
	require.Equal(t, "2013-06-19 22:22:14", byName["start timestamp"])
	require.Equal(t, "2013-06-19 22:22:23", byName["end timestamp"])
	require.Equal(t, "9", byName["total seconds"])
	require.Equal(t, "200", byName["final response code"])
	require.Equal(t, "0.0016", byName["route minute price"])
	require.Equal(t, "0.0002", byName["call price"])
	require.Equal(t, "intra", byName["jurisdiction"])
}

func TestBillingProfileDropsInternalColumns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []*database.CallRecord{testRecord()}, ProfileBilling))

	rows := parseCSV(t, &buf)
	header := strings.Join(rows[0], ",")
	require.NotContains(t, header, "final response code")
	require.NotContains(t, header, "lcr pattern")
	require.NotContains(t, header, "cp nodes")
	require.Contains(t, header, "from code")
	require.Contains(t, header, "lcr rule id")
}

func TestCustomerProfileWithholdsCarrierFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []*database.CallRecord{testRecord()}, ProfileCustomer))

	rows := parseCSV(t, &buf)
	header := strings.Join(rows[0], ",")
	require.NotContains(t, header, "from code")
	require.NotContains(t, header, "to code")
	require.NotContains(t, header, "lcr rule id")
	require.NotContains(t, header, "price table")
	require.NotContains(t, header, "bnum country")
	require.Contains(t, header, "call price")
	require.Contains(t, header, "anum state")
}

func TestNullableFieldsRenderAsDefaults(t *testing.T) {
	rec := &database.CallRecord{CallID: "x", CFrom: "a22", CFrom5: "39781", FStatus: "timeout"}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []*database.CallRecord{rec}, ProfileAll))

	rows := parseCSV(t, &buf)
	byName := make(map[string]string, len(rows[0]))
	for i, name := range rows[0] {
		byName[name] = rows[1][i]
	}
	require.Equal(t, "", byName["start timestamp"])
	require.Equal(t, "0", byName["conn seconds"])
	require.Equal(t, "", byName["route minute price"])
	require.Equal(t, "", byName["anum caller-id"])
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile("billing")
	require.NoError(t, err)
	require.Equal(t, ProfileBilling, p)

	_, err = ParseProfile("everything")
	require.Error(t, err)
}
