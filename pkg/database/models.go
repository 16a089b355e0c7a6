package database

import "time"

// CallRecord is one finalized row of the calls table, joined with its
// Call-Id and, when available, the rate and route info used to price it.
// Pointer fields are NULL-able columns.
type CallRecord struct {
	ID     int64
	CallID string

	CFrom  string
	CFrom5 string
	CTo    *string
	CTo5   *string

	RspCode int
	FStatus string

	TStart   *time.Time
	TConfirm *time.Time
	TEnd     *time.Time

	SSetup      *int64
	SConnected  *int64
	SConnectedR *int64
	STotal      *int64

	ANum     *string
	ANum2    *string
	ACountry *string
	AState   *string
	ALATA    *string
	AOCN     *string
	AJType   *string

	BNum     *string
	BLRN     *string
	BCountry *string
	BState   *string
	BLATA    *string
	BOCN     *string
	BJType   *string

	XState *string

	CallPrice float64
	RuleID    int64
	PTGroup   int
	CPNodes   string

	// Joined from the rate and routing tables; nil when the price table or
	// archived route rule no longer has a matching row.
	MPrice       *float64
	RoutePattern *string
	RouteGroup   *int64
}
