package mediation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mediation-server/pkg/billing"
	"mediation-server/pkg/metrics"
	"mediation-server/pkg/nanpa"
	"mediation-server/pkg/phonenum"
)

// btnSentinel is the placeholder caller id used when the caller id is
// unusable for billing and the customer has no BTN configured.
const btnSentinel = "?BTN?"

// Finalizer computes the derived billing fields of a branch once its
// transaction stream is exhausted: durations, caller-id substitution,
// country and jurisdiction classification, numbering-plan lookups, rounded
// billable seconds, and price. All collaborators are injected and read-only,
// so branches of independent calls may be finalized concurrently.
type Finalizer struct {
	profiles *billing.Directory
	registry nanpa.Registry
	rates    billing.RateDirectory
	logger   *logrus.Logger

	// homeCountry is the ISO code domestic numbers must classify to.
	homeCountry string
}

// NewFinalizer wires a finalizer for US-domestic billing.
func NewFinalizer(profiles *billing.Directory, registry nanpa.Registry, rates billing.RateDirectory, logger *logrus.Logger) *Finalizer {
	return &Finalizer{
		profiles:    profiles,
		registry:    registry,
		rates:       rates,
		logger:      logger,
		homeCountry: "US",
	}
}

// FinalizeBranch fills in the derived fields of a branch that advanced past
// the initial dialog state. Without a resolvable billing profile the branch
// keeps its state machine results but gets no billing fields; the call still
// completes and the gap is flagged for follow-up.
func (f *Finalizer) FinalizeBranch(ctx context.Context, c *Cdr) {
	metrics.BranchProcessed()

	profile, ok := f.profiles.Resolve(c.CFrom)
	if !ok {
		f.logger.WithFields(logrus.Fields{
			"c_from": c.CFrom,
			"callid": c.CallID,
		}).Warn("No billing profile for originating carrier, skipping billing fields")
		metrics.MissingProfile()
		return
	}
	c.CFrom5 = profile.Code5

	// CTo is empty when all routes were tried and 480 went back to the
	// customer; there is no terminating carrier then.
	if c.CTo != "" {
		if tp, ok := f.profiles.Resolve(c.CTo); ok {
			c.CTo5 = tp.Code5
		}
	}

	if !c.Confirm.IsZero() && !c.Start.IsZero() {
		c.SetupSeconds = secondsBetween(c.Start, c.Confirm)
	}
	if !c.Confirm.IsZero() && !c.End.IsZero() {
		c.ConnectedSeconds = secondsBetween(c.Confirm, c.End)
	}
	if !c.Start.IsZero() && !c.End.IsZero() {
		c.TotalSeconds = secondsBetween(c.Start, c.End)
	}

	// A caller id that is neither domestic nor a recognized international
	// number is unusable for billing; substitute the customer's BTN.
	c.ANum2 = c.ANum
	if !phonenum.IsDomestic(c.ANum) && !phonenum.IsInternational(c.ANum) {
		c.BTNUsed = true
		metrics.BTNSubstituted()
		f.logger.WithFields(logrus.Fields{
			"anum":   c.ANum,
			"callid": c.CallID,
		}).Debug("Substituting BTN for unusable caller id")

		if profile.BTN != "" {
			c.ANum2 = profile.BTN
		} else {
			c.ANum2 = btnSentinel
		}
	}

	// Routing and LRN logic should always set a routing number, but the LRN
	// dip occasionally fails or returns no mapping.
	if c.BLRN == "" {
		c.BLRN = c.BNum
		f.logger.WithField("callid", c.CallID).Warn("Routing number not set, using dialed number")
	}

	c.ACountry, c.AJType = f.classify(c.ANum2)
	c.BCountry, c.BJType = f.classify(c.BLRN)

	if c.BJType == "D" {
		if ni, ok := f.registry.Lookup(c.BLRN); ok {
			c.BState = ni.State
			c.BLATA = ni.LATA
			c.BOCN = ni.OCN
		}
	}
	if c.AJType == "D" {
		if ni, ok := f.registry.Lookup(c.ANum); ok {
			c.AState = ni.State
			c.ALATA = ni.LATA
			c.AOCN = ni.OCN
		}
	}

	// Jurisdiction: international-to-domestic is interstate, matching states
	// are intrastate, anything unknown is billed downstream as intrastate.
	c.Jurisdiction = "unknown"
	switch {
	case c.BTNUsed:
		// substituted caller id proves nothing about origin

	case c.AJType == "U" || c.BJType == "U":
		// labeled unknown, billed as intra

	case c.AJType == "I" && c.BJType == "D":
		c.Jurisdiction = "inter"

	case c.AState != "" && c.BState != "" && c.AState == c.BState:
		c.Jurisdiction = "intra"
	}

	var connected int64
	if c.ConnectedSeconds != nil {
		connected = *c.ConnectedSeconds
	}
	c.RoundedSeconds = profile.RoundedBillingSeconds(connected, c.BNum)
	c.Price, c.PTGroup = profile.CallPrice(ctx, f.rates, c.RuleID, c.RoundedSeconds, c.CallID, f.logger)
}

// classify maps a number to its ISO country and jurisdiction type, warning
// on the inconsistent case where lax domestic matching accepts a number the
// strict country parse places abroad.
func (f *Finalizer) classify(number string) (country, jtype string) {
	if cls := phonenum.Classify(number); cls != nil {
		country = cls.ISO
	}

	switch {
	case phonenum.IsDomestic(number):
		jtype = "D"
	case phonenum.IsInternational(number):
		jtype = "I"
	default:
		jtype = "U"
	}

	if jtype == "D" && country != f.homeCountry {
		f.logger.WithFields(logrus.Fields{
			"number":  number,
			"country": country,
		}).Warn("Inconsistent classification: domestic number with foreign country code")
	}

	return country, jtype
}

func secondsBetween(from, to time.Time) *int64 {
	s := int64(to.Sub(from) / time.Second)
	return &s
}
