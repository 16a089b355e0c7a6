// Package billing holds per-carrier billing profiles: rounding parameters,
// price-table group, billing telephone number, and the per-customer rounding
// overrides some contracts require. Profiles are explicit configuration
// merged over a default record; there is no hidden global carrier table.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"mediation-server/pkg/metrics"
	"mediation-server/pkg/phonenum"
)

// ErrInvalidRounding rejects profiles whose rounding intervals would make the
// billed-seconds computation undefined.
var ErrInvalidRounding = errors.New("invalid rounding configuration: subsequent interval must be positive")

// RateDirectory supplies per-minute route rates for pricing. Absence of a
// rate is reported via the bool, never as an error.
type RateDirectory interface {
	PriceFor(ctx context.Context, ptgroup int, ruleID int64) (float64, bool)
}

// Profile is the fully-merged billing configuration for one carrier.
type Profile struct {
	Code3 string // 3-letter carrier code, the lookup key
	Code5 string // 5-digit interchange carrier code for billing exports
	BTN   string // billing telephone number substituted for unusable caller ids

	// Rounding intervals in seconds: R1 is the first (minimum) interval,
	// R2 the subsequent increment.
	R1 int64
	R2 int64

	// PTGroup selects which price table rates this carrier's calls.
	PTGroup int

	// PerSecondCountry, when set, switches to exact per-second billing
	// (r1=r2=1) for calls whose dialed number classifies to this ISO
	// country code.
	PerSecondCountry string
}

// ProfileConfig is the raw configuration record for one carrier. Nil interval
// and group fields inherit the default profile's values; zero is a meaningful
// interval value (no minimum), so pointers distinguish "unset" from "zero".
type ProfileConfig struct {
	Code3            string `json:"code3"`
	Code5            string `json:"code5"`
	BTN              string `json:"btn,omitempty"`
	R1               *int64 `json:"r1,omitempty"`
	R2               *int64 `json:"r2,omitempty"`
	PTGroup          *int   `json:"ptgroup,omitempty"`
	PerSecondCountry string `json:"per_second_country,omitempty"`
}

// DirectoryConfig is the full carrier-profile configuration: one default
// record plus per-carrier overrides.
type DirectoryConfig struct {
	Default  ProfileConfig   `json:"default"`
	Carriers []ProfileConfig `json:"carriers"`
}

// Directory resolves carrier codes to merged billing profiles.
type Directory struct {
	profiles map[string]Profile
	def      Profile
	logger   *logrus.Logger
}

// NewDirectory merges carrier records over the default and validates the
// result. A profile whose subsequent rounding interval is not positive is
// rejected outright rather than deferred to a divide-by-zero at billing time.
func NewDirectory(config DirectoryConfig, logger *logrus.Logger) (*Directory, error) {
	def := Profile{
		Code3:            config.Default.Code3,
		Code5:            config.Default.Code5,
		BTN:              config.Default.BTN,
		PerSecondCountry: config.Default.PerSecondCountry,
	}
	if def.Code3 == "" {
		def.Code3 = "???"
	}
	if def.Code5 == "" {
		def.Code5 = "?????"
	}
	if config.Default.R1 != nil {
		def.R1 = *config.Default.R1
	}
	if config.Default.R2 != nil {
		def.R2 = *config.Default.R2
	}
	if config.Default.PTGroup != nil {
		def.PTGroup = *config.Default.PTGroup
	}

	if def.R2 <= 0 {
		return nil, fmt.Errorf("default profile: %w", ErrInvalidRounding)
	}

	d := &Directory{
		profiles: make(map[string]Profile, len(config.Carriers)),
		def:      def,
		logger:   logger,
	}

	for _, c := range config.Carriers {
		if c.Code3 == "" {
			return nil, fmt.Errorf("carrier profile with empty code3 (code5=%q)", c.Code5)
		}

		p := def
		p.Code3 = c.Code3
		if c.Code5 != "" {
			p.Code5 = c.Code5
		}
		if c.BTN != "" {
			p.BTN = c.BTN
		}
		if c.R1 != nil {
			p.R1 = *c.R1
		}
		if c.R2 != nil {
			p.R2 = *c.R2
		}
		if c.PTGroup != nil {
			p.PTGroup = *c.PTGroup
		}
		if c.PerSecondCountry != "" {
			p.PerSecondCountry = c.PerSecondCountry
		}

		if p.R2 <= 0 {
			return nil, fmt.Errorf("carrier %s: %w", c.Code3, ErrInvalidRounding)
		}

		if _, dup := d.profiles[c.Code3]; dup {
			return nil, fmt.Errorf("duplicate carrier profile %s", c.Code3)
		}
		d.profiles[c.Code3] = p
	}

	return d, nil
}

// Resolve returns the billing profile for a carrier code. An empty code has
// no profile. An unknown code falls back to the default record so mediation
// can still complete; the mismatch is logged once per resolution because it
// usually means the switch failed to record the originating carrier.
func (d *Directory) Resolve(code3 string) (*Profile, bool) {
	if code3 == "" {
		return nil, false
	}

	if p, ok := d.profiles[code3]; ok {
		return &p, true
	}

	d.logger.WithField("code3", code3).Warn("Unknown carrier code, using default billing profile")
	p := d.def
	return &p, true
}

// Default returns the merged default profile.
func (d *Directory) Default() Profile {
	return d.def
}

// RoundSeconds applies the two-interval rounding rule: the first r1 seconds
// bill as a minimum block, then usage rounds up to r2-second increments. With
// r1 == 0 all usage rounds up to r2 increments. Zero or negative connected
// seconds bill as zero.
func RoundSeconds(connected, r1, r2 int64) int64 {
	if connected <= 0 {
		return 0
	}

	s := connected
	usedMinimum := false

	if r1 > 0 {
		if s <= r1 {
			return r1
		}
		s -= r1
		usedMinimum = true
	}

	intervals := s / r2
	if s%r2 != 0 {
		intervals++
	}

	total := intervals * r2
	if usedMinimum {
		total += r1
	}

	return total
}

// RoundedBillingSeconds rounds a branch's connected seconds per this
// profile, applying the per-second country override when the dialed number
// classifies to the override country.
func (p *Profile) RoundedBillingSeconds(connected int64, calleeNumber string) int64 {
	r1, r2 := p.R1, p.R2

	if p.PerSecondCountry != "" && calleeNumber != "" {
		if c := phonenum.Classify(calleeNumber); c != nil && c.ISO == p.PerSecondCountry {
			r1, r2 = 1, 1
		}
	}

	return RoundSeconds(connected, r1, r2)
}

// CallPrice prices the rounded billable seconds against the rate directory.
// A missing rate prices the call at zero and is logged at error level; it
// must never abort mediation, only produce a flaggable zero-priced record.
func (p *Profile) CallPrice(ctx context.Context, dir RateDirectory, ruleID, roundedSeconds int64, callID string, logger *logrus.Logger) (float64, int) {
	if roundedSeconds <= 0 {
		return 0, p.PTGroup
	}

	rate, found := dir.PriceFor(ctx, p.PTGroup, ruleID)
	if !found {
		metrics.MissingRate()
		logger.WithFields(logrus.Fields{
			"ptgroup": p.PTGroup,
			"ruleid":  ruleID,
			"callid":  callID,
		}).Error("No route price available")
		return 0, p.PTGroup
	}

	return rate * float64(roundedSeconds) / 60.0, p.PTGroup
}
