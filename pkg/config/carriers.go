package config

import "mediation-server/pkg/billing"

func intp(n int) *int       { return &n }
func int64p(n int64) *int64 { return &n }

// defaultCarrierConfig is the static table of known carriers. It can be
// replaced or extended through CARRIER_PROFILES_FILE, but these records
// are definitive for the carriers we interconnect with today.
func defaultCarrierConfig() billing.DirectoryConfig {
	return billing.DirectoryConfig{
		Default: billing.ProfileConfig{
			Code3:   "???",
			Code5:   "?????",
			R1:      int64p(6),
			R2:      int64p(6),
			PTGroup: intp(1),
		},
		Carriers: []billing.ProfileConfig{
			{Code3: "ryn", Code5: "10112", BTN: "17320000000", PTGroup: intp(10)},
			{Code3: "cnx", Code5: "27434", BTN: "12120000000", PTGroup: intp(10)},
			// Quickcom bills Mexico-bound calls per second by agreement.
			{Code3: "qkc", Code5: "10015", BTN: "8641139707285", R1: int64p(6), R2: int64p(6), PTGroup: intp(5), PerSecondCountry: "MX"},
			{Code3: "lv3", Code5: "17110"},
			{Code3: "vxr", Code5: "20454", PTGroup: intp(9)},
			{Code3: "a22", Code5: "39781", PTGroup: intp(9)},
			{Code3: "vxb", Code5: "33540", PTGroup: intp(8)},
			{Code3: "wds", Code5: "11019"},
			{Code3: "ctl", Code5: "20228"},
			{Code3: "erl", Code5: "24766"},
			{Code3: "xox", Code5: "32003"},
			{Code3: "imp", Code5: "13888"},
		},
	}
}
