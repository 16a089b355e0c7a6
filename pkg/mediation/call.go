package mediation

import (
	"sort"
	"time"
)

// Call is the collection of branches sharing one call identifier. A Call may
// legitimately hold zero branches when the identifier was discovered before
// any transaction rows arrived.
type Call struct {
	CallID string

	Cdrs []*Cdr

	// FinalCdr is the billable branch, set by Finalize.
	FinalCdr *Cdr

	// Start is the earliest branch start time, set by Finalize.
	Start time.Time

	tags map[string]*Cdr
}

func NewCall(callID string) *Call {
	return &Call{
		CallID: callID,
		tags:   make(map[string]*Cdr),
	}
}

// AddCdr registers a branch under its tag. Re-adding a known tag is a no-op.
func (c *Call) AddCdr(cdr *Cdr) {
	if _, ok := c.tags[cdr.Tag]; ok {
		return
	}
	c.Cdrs = append(c.Cdrs, cdr)
	c.tags[cdr.Tag] = cdr
}

// Cdr returns the branch registered under tag, or nil.
func (c *Call) Cdr(tag string) *Cdr {
	return c.tags[tag]
}

// HasTag reports whether a branch exists for the tag.
func (c *Call) HasTag(tag string) bool {
	_, ok := c.tags[tag]
	return ok
}

// AllTransactions collects every transaction grouped onto any branch.
func (c *Call) AllTransactions() []*Transaction {
	var txs []*Transaction
	for _, cdr := range c.Cdrs {
		txs = append(txs, cdr.Transactions...)
	}
	return txs
}

// Finalize selects the billable branch and computes the call start time.
// Branches sort by branch index; the highest index is the last route tried
// and the one whose final response reached the caller.
func (c *Call) Finalize() {
	if len(c.Cdrs) == 0 {
		return
	}

	sort.SliceStable(c.Cdrs, func(i, j int) bool {
		return c.Cdrs[i].BranchIndex < c.Cdrs[j].BranchIndex
	})
	c.FinalCdr = c.Cdrs[len(c.Cdrs)-1]

	for _, cdr := range c.Cdrs {
		if c.Start.IsZero() || cdr.Start.Before(c.Start) {
			c.Start = cdr.Start
		}
	}
}

// ErrCdrs returns every branch except the billable one. These are failed
// route attempts, surfaced for diagnostics and never billed.
func (c *Call) ErrCdrs() []*Cdr {
	var errs []*Cdr
	for _, cdr := range c.Cdrs {
		if cdr != c.FinalCdr {
			errs = append(errs, cdr)
		}
	}
	return errs
}

// IsComplete reports whether the billable branch reached a terminated
// dialog. Only valid after Finalize.
func (c *Call) IsComplete() bool {
	return c.FinalCdr != nil && c.FinalCdr.State == StateTerminated
}

func (c *Call) IsIncomplete() bool {
	return !c.IsComplete()
}

// IsConfirmedDialog reports whether the billable branch is a connected,
// still-active dialog.
func (c *Call) IsConfirmedDialog() bool {
	return c.FinalCdr != nil && c.FinalCdr.State == StateConfirmed
}

// CurrentDurationSeconds returns the total call duration, measured against
// now for a call still in progress. Zero when no data is available.
func (c *Call) CurrentDurationSeconds(now time.Time) int64 {
	if c.Start.IsZero() {
		return 0
	}

	if c.IsIncomplete() {
		return int64(now.Sub(c.Start) / time.Second)
	}

	if c.FinalCdr.TotalSeconds == nil {
		return 0
	}
	return *c.FinalCdr.TotalSeconds
}
