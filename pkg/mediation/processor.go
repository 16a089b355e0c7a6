package mediation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mediation-server/pkg/metrics"
)

// TransactionStore supplies raw accounting rows. The store returns rows
// ordered by their intrinsic id; the processor re-sorts by timestamp
// regardless.
type TransactionStore interface {
	// TransactionsForCalls returns every row for the given call identifiers.
	TransactionsForCalls(ctx context.Context, callIDs []string) ([]*Transaction, error)

	// CallIDsInRange returns the distinct call identifiers with any
	// transaction inside [from, to). An empty srcID matches all sources; a
	// non-positive limit means no limit.
	CallIDsInRange(ctx context.Context, from, to time.Time, srcID string, limit int) ([]string, error)
}

// Processor drives one mediation batch: fetch, normalize, group, feed the
// per-branch state machines, finalize. Calls are mutually independent and
// mediated in parallel; within one call processing is strictly sequential.
type Processor struct {
	store     TransactionStore
	finalizer *Finalizer
	logger    *logrus.Logger
	workers   int
}

// NewProcessor builds a processor mediating up to workers calls at a time.
func NewProcessor(store TransactionStore, finalizer *Finalizer, workers int, logger *logrus.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		store:     store,
		finalizer: finalizer,
		logger:    logger,
		workers:   workers,
	}
}

// Run mediates the given call identifiers and splits the results into
// complete and incomplete calls. Incomplete calls are expected: a later run
// over a later time window picks them up again. Per-call anomalies never
// fail the run; only a storage error does.
func (p *Processor) Run(ctx context.Context, callIDs []string) (complete, incomplete []*Call, err error) {
	metrics.RunStarted()
	started := time.Now()
	defer func() {
		metrics.ObserveRunDuration(time.Since(started).Seconds())
	}()

	ids := dedupeIDs(callIDs)

	// Calls exist before any row is examined: an identifier discovered
	// elsewhere may not have reached the accounting table yet, and must
	// still surface as an (empty, incomplete) call.
	calls := make(map[string]*Call, len(ids))
	ordered := make([]*Call, 0, len(ids))
	for _, id := range ids {
		call := NewCall(id)
		calls[id] = call
		ordered = append(ordered, call)
	}

	rows, err := p.store.TransactionsForCalls(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("loading transactions: %w", err)
	}

	for _, t := range rows {
		t.Normalize()

		call, ok := calls[t.CallID]
		if !ok {
			p.logger.WithField("callid", t.CallID).Warn("Transaction outside requested call set")
			continue
		}

		// The to-tag identifies a branch; servers on some branches never
		// populate it, so the branch index stands in as a fallback tag.
		tag := t.ToTag
		if tag == "" {
			tag = t.BranchIndex
		}

		if !call.HasTag(tag) {
			// A BYE often carries the original request's from-tag rather
			// than a peer-assigned to-tag; retarget it to the branch it
			// actually ends.
			if t.Method == MethodBye && call.HasTag(t.FromTag+t.BranchIndex) {
				tag = t.FromTag + t.BranchIndex
			} else {
				call.AddCdr(NewCdr(t.CallID, tag, p.logger))
			}
		}

		t.tag = tag
		cdr := call.Cdr(tag)
		cdr.Transactions = append(cdr.Transactions, t)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, call := range ordered {
		call := call
		g.Go(func() error {
			p.mediateCall(gctx, call)
			return nil
		})
	}
	// Workers never fail; anomalies are per-call and logged.
	_ = g.Wait()

	for _, call := range ordered {
		if call.IsComplete() {
			metrics.CallComplete()
			complete = append(complete, call)
		} else {
			metrics.CallIncomplete()
			incomplete = append(incomplete, call)
		}
	}

	return complete, incomplete, nil
}

// mediateCall feeds every transaction of the call to every branch, then
// finalizes. The sort order is the contract the state machine depends on;
// ties are broken by sequence id, never left ambiguous.
func (p *Processor) mediateCall(ctx context.Context, call *Call) {
	txs := call.AllTransactions()
	sortTransactions(txs)

	for _, cdr := range call.Cdrs {
		for _, t := range txs {
			cdr.ProcessTx(t)
		}

		if cdr.State > StateInit {
			p.finalizer.FinalizeBranch(ctx, cdr)
		} else {
			p.logger.WithFields(logrus.Fields{
				"callid": call.CallID,
				"tag":    cdr.Tag,
				"state":  cdr.State.String(),
			}).Debug("Not finalizing incomplete branch")
		}
	}

	call.Finalize()
}

func sortTransactions(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.RequestTime.Equal(b.RequestTime) {
			return a.RequestTime.Before(b.RequestTime)
		}
		if !a.ResponseTime.Equal(b.ResponseTime) {
			return a.ResponseTime.Before(b.ResponseTime)
		}
		return a.SeqID < b.SeqID
	})
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
