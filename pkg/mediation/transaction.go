// Package mediation reconstructs billable call records from raw signaling
// transaction rows. Rows are grouped into per-branch records, each branch is
// driven through a dialog state machine that tolerates duplicates and
// out-of-order delivery, and branches are aggregated into calls from which
// the billable branch is selected and priced.
package mediation

import (
	"hash/fnv"
	"strconv"
	"time"
)

// Request methods recorded by the switch accounting layer.
const (
	MethodInvite = "INVITE"
	MethodBye    = "BYE"
)

// BranchIndexNoRoutes is the synthetic branch index assigned to a final 480
// returned to the customer after every route was tried. Forcing it high makes
// the no-more-routes response the billable branch instead of an earlier
// failed attempt.
const BranchIndexNoRoutes = "99"

// Transaction is one raw accounting row: a single request/response pair
// recorded by the switch. Rows are messy: request time may be missing, the
// to-tag may be empty, and exact duplicates appear.
type Transaction struct {
	SeqID        int64
	CallID       string
	Method       string
	FromTag      string
	ToTag        string
	BranchIndex  string // textual, may be empty
	ResponseCode int
	Reason       string
	RequestTime  time.Time
	ResponseTime time.Time
	SrcID        string // originating carrier code
	DstID        string // terminating carrier code
	CallerID     string
	CalleeID     string
	CalleeLRN    string
	RuleID       int64
	CPNode       string

	// tag is the branch tag assigned during grouping.
	tag string
}

// Normalize repairs the quirks the accounting layer leaves in raw rows.
// A missing request time falls back to the response time so sorting stays
// total. A final 480 with no to-tag is the no-routes-available answer sent
// back to the customer; it gets the synthetic branch index and its
// destination is cleared since no carrier ever took the call.
func (t *Transaction) Normalize() {
	if t.RequestTime.IsZero() {
		t.RequestTime = t.ResponseTime
	}

	if t.ToTag == "" && t.ResponseCode == 480 {
		t.BranchIndex = BranchIndexNoRoutes
		t.DstID = ""
	}
}

// Hash fingerprints the row content for duplicate suppression. The sequence
// id is excluded: duplicated rows differ only by their auto-increment key.
// The field list is explicit and ordered so the hash is stable.
func (t *Transaction) Hash() uint64 {
	h := fnv.New64a()
	for _, f := range []string{
		t.CallID,
		t.Method,
		t.FromTag,
		t.ToTag,
		t.BranchIndex,
		strconv.Itoa(t.ResponseCode),
		t.Reason,
		strconv.FormatInt(t.RequestTime.Unix(), 10),
		strconv.FormatInt(t.ResponseTime.Unix(), 10),
		t.SrcID,
		t.DstID,
		t.CallerID,
		t.CalleeID,
		t.CalleeLRN,
		strconv.FormatInt(t.RuleID, 10),
		t.CPNode,
	} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// rc2str maps response codes to status text. Carriers are not consistent in
// their use of the proper code, so this stays a best-effort label.
var rc2str = map[int]string{
	100: "trying",
	180: "ringing",
	181: "forwarded",
	182: "queued",
	183: "session progress",
	200: "OK",
	202: "accepted",
	401: "unauthorized",
	403: "unauthorized",
	404: "not found",
	407: "unauthorized",
	408: "timeout",
	480: "routes unavailable",
	481: "tx not found",
	486: "busy",
	487: "canceled",
}

func respToMessage(rc int) string {
	if s, ok := rc2str[rc]; ok {
		return s
	}

	switch {
	case rc < 200:
		return "trying"
	case rc < 300:
		return "OK"
	case rc < 400:
		return "redirect"
	default:
		return "failed"
	}
}
