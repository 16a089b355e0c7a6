package mediation

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"mediation-server/pkg/metrics"
)

// DialogState tracks how far a branch's dialog progressed.
type DialogState int

const (
	// StateBroken marks a branch whose transaction stream started mid-dialog
	// (typically a BYE with no prior INVITE on record).
	StateBroken DialogState = -1

	StateInit       DialogState = 0
	StateEarly      DialogState = 1
	StateConfirmed  DialogState = 2
	StateTerminated DialogState = 3
)

func (s DialogState) String() string {
	switch s {
	case StateBroken:
		return "broken"
	case StateInit:
		return "init"
	case StateEarly:
		return "early"
	case StateConfirmed:
		return "confirmed"
	case StateTerminated:
		return "terminated"
	}
	return "invalid"
}

// Terminal reports whether no further transaction may change the dialog state.
func (s DialogState) Terminal() bool {
	return s == StateTerminated || s == StateBroken
}

// Cdr is one branch of serial-forking route attempts, identified within its
// call by a branch tag. It accumulates timestamps and party fields as
// transactions are applied, then the finalizer fills in durations,
// classification, jurisdiction, and price.
type Cdr struct {
	CallID string
	Tag    string

	// BranchIndex orders route attempts; the highest index is the branch
	// whose final response reached the caller.
	BranchIndex int

	Start   time.Time // first request of any transaction for this call
	Confirm time.Time // final reply to the INVITE
	End     time.Time // dialog end (BYE, or same as Confirm if never confirmed)

	// Durations in seconds, unset until finalized and only when both
	// endpoints are known.
	SetupSeconds     *int64
	ConnectedSeconds *int64
	TotalSeconds     *int64

	// RoundedSeconds is ConnectedSeconds rounded per the customer's billing
	// intervals.
	RoundedSeconds int64

	CFrom  string // originating carrier code
	CFrom5 string
	CTo    string // terminating carrier code, empty when no route accepted the call
	CTo5   string

	ANum     string // caller id as recorded
	ANum2    string // caller id used for billing, possibly the customer's BTN
	BTNUsed  bool
	ACountry string
	AState   string
	ALATA    string
	AOCN     string
	AJType   string // jurisdiction type: D, I, or U

	BNum     string // dialed number
	BLRN     string // routing number for the dialed number
	BCountry string
	BState   string
	BLATA    string
	BOCN     string
	BJType   string

	// Jurisdiction classifies the call as intra, inter, or unknown.
	Jurisdiction string

	RuleID  int64
	Price   float64
	PTGroup int

	// CPNodes lists the processing nodes that handled the call, in order;
	// more than one means mid-dialog failover.
	CPNodes []string

	State  DialogState
	Status string
	LastRC int

	// Transactions holds the rows grouped onto this branch.
	Transactions []*Transaction

	seen   map[uint64]struct{}
	logger *logrus.Logger
}

// NewCdr creates an empty branch record for the given call and branch tag.
func NewCdr(callID, tag string, logger *logrus.Logger) *Cdr {
	return &Cdr{
		CallID: callID,
		Tag:    tag,
		Status: "unknown",
		seen:   make(map[uint64]struct{}),
		logger: logger,
	}
}

// ProcessTx advances the dialog state machine with one transaction. Feed in
// every transaction of the call in chronological order, not just the ones
// tagged for this branch: foreign rows still contribute the earliest request
// time and duplicate bookkeeping, but cause no state change.
func (c *Cdr) ProcessTx(t *Transaction) {
	// Earliest request from any branch is the call-level start candidate.
	if c.Start.IsZero() || t.RequestTime.Before(c.Start) {
		c.Start = t.RequestTime
	}

	h := t.Hash()
	if _, dup := c.seen[h]; dup {
		if t.tag == c.Tag {
			metrics.DuplicateTransaction()
		}
		return
	}
	c.seen[h] = struct{}{}

	if t.tag != c.Tag {
		return
	}

	if t.BranchIndex != "" {
		if idx, err := strconv.Atoi(t.BranchIndex); err == nil {
			c.BranchIndex = idx
		}
	}

	if t.CPNode != "" && (len(c.CPNodes) == 0 || c.CPNodes[len(c.CPNodes)-1] != t.CPNode) {
		c.CPNodes = append(c.CPNodes, t.CPNode)
	}

	inv := t.Method == MethodInvite
	bye := t.Method == MethodBye
	rc := t.ResponseCode
	rcProvisional := rc < 200 || (rc >= 300 && rc < 400)
	rcOK := rc >= 200 && rc < 300
	rcError := rc >= 400
	rcFinal := rcOK || rcError

	state := c.State
	next := state

	switch state {
	case StateBroken:
		return

	case StateInit:
		switch {
		case inv && rcProvisional:
			next = StateEarly

		case inv && rcOK:
			c.Confirm = t.ResponseTime
			next = StateConfirmed

		case inv && rcFinal:
			c.Confirm = t.ResponseTime
			c.End = t.ResponseTime
			next = StateTerminated

		case bye:
			// Tolerable: earlier transactions may be missing from the
			// accounting table.
			c.logger.WithField("callid", c.CallID).Debug("Dialog transition to illegal state")
			next = StateBroken
			metrics.BranchBroken()
		}

	case StateEarly:
		switch {
		case inv && rcOK:
			c.Confirm = t.ResponseTime
			next = StateConfirmed

		case inv && rcFinal:
			c.Confirm = t.ResponseTime
			c.End = t.ResponseTime
			next = StateTerminated

		case bye:
			c.logger.WithField("callid", c.CallID).Debug("Dialog transition to illegal state")
			next = StateBroken
			metrics.BranchBroken()
		}

	case StateConfirmed:
		if bye {
			c.End = t.ResponseTime
			if rcOK {
				next = StateTerminated
				c.Status = "completed"
			} else {
				c.logger.WithFields(logrus.Fields{
					"callid": c.CallID,
					"rc":     rc,
				}).Error("BYE failed on confirmed dialog")
			}
		} else {
			c.logger.WithField("callid", c.CallID).Debug("Reinvite on confirmed dialog")
		}

	case StateTerminated:
		c.logger.WithField("callid", c.CallID).Warn("Unexpected transaction after terminated dialog")
	}

	// First INVITE that moves the dialog forward carries the party and
	// routing fields; later ones never overwrite.
	if next > StateInit && inv {
		if t.SrcID != "" && c.CFrom == "" {
			c.CFrom = t.SrcID
		}
		if t.DstID != "" && c.CTo == "" {
			c.CTo = t.DstID
		}
		if t.CallerID != "" && c.ANum == "" {
			c.ANum = t.CallerID
		}
		if t.CalleeID != "" && c.BNum == "" {
			c.BNum = t.CalleeID
		}
		if t.CalleeLRN != "" && c.BLRN == "" {
			c.BLRN = t.CalleeLRN
		}
		if t.RuleID != 0 && c.RuleID == 0 {
			c.RuleID = t.RuleID
		}
	}

	if next == StateConfirmed || next == StateTerminated {
		c.LastRC = rc
		c.Status = respToMessage(rc)
	}

	c.State = next
	metrics.TransactionApplied()
}
