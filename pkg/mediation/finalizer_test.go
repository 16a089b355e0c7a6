package mediation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mediation-server/pkg/rates"
)

func newTestFinalizer(t *testing.T) *Finalizer {
	t.Helper()
	logger := testLogger()
	rateDir := rates.NewDirectory(fixedRateSource{rate: 0.00159}, rates.Config{}, logger)
	return NewFinalizer(testProfiles(t), testRegistry(), rateDir, logger)
}

func terminatedCdr(callID, cFrom, anum, bnum, blrn string) *Cdr {
	c := NewCdr(callID, "tag1", testLogger())
	c.State = StateTerminated
	c.Start = at(0)
	c.Confirm = at(2)
	c.End = at(39)
	c.CFrom = cFrom
	c.ANum = anum
	c.BNum = bnum
	c.BLRN = blrn
	c.RuleID = 204012
	return c
}

func TestFinalizeIntrastateCall(t *testing.T) {
	c := terminatedCdr("cid1@host", "a22", "15412233333", "15039433333", "15039433333")

	newTestFinalizer(t).FinalizeBranch(context.Background(), c)

	require.Equal(t, "D", c.AJType)
	require.Equal(t, "D", c.BJType)
	require.Equal(t, "US", c.ACountry)
	require.Equal(t, "OR", c.AState)
	require.Equal(t, "670", c.ALATA)
	require.Equal(t, "OR", c.BState)
	require.Equal(t, "672", c.BLATA)
	require.Equal(t, "intra", c.Jurisdiction)
	require.False(t, c.BTNUsed)
	require.Equal(t, c.ANum, c.ANum2)

	require.NotNil(t, c.ConnectedSeconds)
	require.EqualValues(t, 37, *c.ConnectedSeconds)
	require.EqualValues(t, 42, c.RoundedSeconds, "37s rounds up in 6s increments")
	require.InDelta(t, 0.00159*42/60.0, c.Price, 1e-12)
}

func TestFinalizeInternationalCallerIsInterstate(t *testing.T) {
	c := terminatedCdr("cid2@host", "a22", "+442071234567", "15039433333", "15039433333")

	newTestFinalizer(t).FinalizeBranch(context.Background(), c)

	require.Equal(t, "I", c.AJType)
	require.Equal(t, "UK", c.ACountry)
	require.Equal(t, "D", c.BJType)
	require.Equal(t, "inter", c.Jurisdiction)
}

func TestFinalizeSubstitutesBTNForUnusableCallerID(t *testing.T) {
	c := terminatedCdr("cid3@host", "ryn", "123", "15039433333", "15039433333")

	newTestFinalizer(t).FinalizeBranch(context.Background(), c)

	require.True(t, c.BTNUsed)
	require.Equal(t, "17320000000", c.ANum2)
	require.Equal(t, "unknown", c.Jurisdiction, "substituted caller id never proves jurisdiction")
}

func TestFinalizeUsesSentinelWithoutConfiguredBTN(t *testing.T) {
	c := terminatedCdr("cid4@host", "a22", "anonymous", "15039433333", "15039433333")

	newTestFinalizer(t).FinalizeBranch(context.Background(), c)

	require.True(t, c.BTNUsed)
	require.Equal(t, "?BTN?", c.ANum2)
}

func TestFinalizeFallsBackToDialedNumberWithoutLRN(t *testing.T) {
	c := terminatedCdr("cid5@host", "a22", "15412233333", "15039433333", "")

	newTestFinalizer(t).FinalizeBranch(context.Background(), c)

	require.Equal(t, "15039433333", c.BLRN)
	require.Equal(t, "OR", c.BState)
}

func TestFinalizeWithoutProfileSkipsBillingFields(t *testing.T) {
	c := terminatedCdr("cid6@host", "", "15412233333", "15039433333", "15039433333")

	newTestFinalizer(t).FinalizeBranch(context.Background(), c)

	require.Empty(t, c.Jurisdiction)
	require.Nil(t, c.ConnectedSeconds)
	require.Zero(t, c.RoundedSeconds)
	require.Zero(t, c.Price)
	require.Equal(t, StateTerminated, c.State, "dialog results survive the missing profile")
}

func TestFinalizePerSecondOverrideForMexico(t *testing.T) {
	c := terminatedCdr("cid7@host", "qkc", "15412233333", "+52111222333", "+52111222333")

	newTestFinalizer(t).FinalizeBranch(context.Background(), c)

	require.EqualValues(t, 37, c.RoundedSeconds, "per-second billing for the override country")
	require.Equal(t, 5, c.PTGroup)
}

func TestRespToMessage(t *testing.T) {
	require.Equal(t, "ringing", respToMessage(180))
	require.Equal(t, "OK", respToMessage(200))
	require.Equal(t, "routes unavailable", respToMessage(480))
	require.Equal(t, "trying", respToMessage(199))
	require.Equal(t, "OK", respToMessage(299))
	require.Equal(t, "redirect", respToMessage(302))
	require.Equal(t, "failed", respToMessage(500))
}

func TestTransactionHashIgnoresSeqID(t *testing.T) {
	a := Transaction{SeqID: 1, CallID: "cid", Method: MethodInvite, ResponseCode: 500, ResponseTime: at(0)}
	b := a
	b.SeqID = 2
	require.Equal(t, a.Hash(), b.Hash())

	b.ResponseCode = 503
	require.NotEqual(t, a.Hash(), b.Hash())
}
