package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mediation-server/pkg/mediation"
	"mediation-server/pkg/metrics"
	"mediation-server/pkg/nanpa"
)

// Repository provides database operations for mediation: raw transaction
// reads from the accounting database and call-record, rate, and
// numbering-plan operations on the billing database.
type Repository struct {
	acc    *MySQLDatabase
	nc     *MySQLDatabase
	logger *logrus.Logger
}

// NewRepository creates a repository over the accounting and billing
// database connections.
func NewRepository(acc, nc *MySQLDatabase, logger *logrus.Logger) *Repository {
	return &Repository{
		acc:    acc,
		nc:     nc,
		logger: logger,
	}
}

// Transaction source operations

const txColumns = "id, callid, method, from_tag, to_tag, t_branch_idx, sip_code, sip_reason, prtime, `time`, src_id, dst_id, caller_id, callee_id, callee_lrn, ruleid, cp_node"

// TransactionsForCalls returns every accounting row for the given call
// identifiers, ordered by the auto-increment id within each call. Rows where
// the recorded destination disagrees with the routing destination are
// accounting artifacts and excluded.
func (r *Repository) TransactionsForCalls(ctx context.Context, callIDs []string) ([]*mediation.Transaction, error) {
	query := "SELECT " + txColumns + " FROM acc WHERE callid = ? AND dst_id = dst_id2 ORDER BY id ASC"

	var out []*mediation.Transaction
	for _, callID := range callIDs {
		rows, err := r.acc.db.QueryContext(ctx, query, callID)
		if err != nil {
			return nil, fmt.Errorf("querying transactions for %s: %w", callID, err)
		}

		for rows.Next() {
			t, err := scanTransaction(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning transaction row: %w", err)
			}
			out = append(out, t)
		}

		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("reading transactions for %s: %w", callID, err)
		}
		rows.Close()
	}

	return out, nil
}

func scanTransaction(rows *sql.Rows) (*mediation.Transaction, error) {
	var (
		t        mediation.Transaction
		fromTag  sql.NullString
		toTag    sql.NullString
		branch   sql.NullString
		sipCode  sql.NullString
		reason   sql.NullString
		prtime   sql.NullTime
		restime  sql.NullTime
		srcID    sql.NullString
		dstID    sql.NullString
		callerID sql.NullString
		calleeID sql.NullString
		lrn      sql.NullString
		ruleID   sql.NullInt64
		cpNode   sql.NullString
	)

	if err := rows.Scan(
		&t.SeqID, &t.CallID, &t.Method, &fromTag, &toTag, &branch,
		&sipCode, &reason, &prtime, &restime,
		&srcID, &dstID, &callerID, &calleeID, &lrn, &ruleID, &cpNode,
	); err != nil {
		return nil, err
	}

	t.FromTag = fromTag.String
	t.ToTag = toTag.String
	t.BranchIndex = branch.String
	t.Reason = reason.String
	t.SrcID = srcID.String
	t.DstID = dstID.String
	t.CallerID = callerID.String
	t.CalleeID = calleeID.String
	t.CalleeLRN = lrn.String
	t.RuleID = ruleID.Int64
	t.CPNode = cpNode.String

	// sip_code is a text column in the accounting schema
	if sipCode.Valid {
		if rc, err := strconv.Atoi(strings.TrimSpace(sipCode.String)); err == nil {
			t.ResponseCode = rc
		}
	}

	if prtime.Valid {
		t.RequestTime = prtime.Time
	}
	if restime.Valid {
		t.ResponseTime = restime.Time
	}

	return &t, nil
}

// CallIDsInRange returns the distinct call identifiers with any transaction
// whose request or response time falls inside [from, to). An empty srcID
// matches all sources; a non-positive limit means no limit.
func (r *Repository) CallIDsInRange(ctx context.Context, from, to time.Time, srcID string, limit int) ([]string, error) {
	query := "SELECT DISTINCT callid FROM acc WHERE ((prtime >= ? AND prtime < ?) OR (`time` >= ? AND `time` < ?))"
	args := []interface{}{from, to, from, to}

	if srcID != "" {
		query += " AND src_id = ?"
		args = append(args, srcID)
	}
	query, args = appendLimit(query, args, limit)

	rows, err := r.acc.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying call ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning call id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading call ids: %w", err)
	}

	return ids, nil
}

// appendLimit adds a LIMIT clause only for positive caps. Zero and negative
// values both mean unlimited; binding LIMIT 0 would tell MySQL to return no
// rows at all.
func appendLimit(query string, args []interface{}, limit int) (string, []interface{}) {
	if limit > 0 {
		return query + " LIMIT ?", append(args, limit)
	}
	return query, args
}

// Call record sink operations

// WriteCallRecord persists a finalized call as an idempotent replace: any
// previous record for the same call identifier is deleted inside the same
// SQL transaction before the new one is inserted, so re-running mediation
// over overlapping time windows is safe and convergent.
func (r *Repository) WriteCallRecord(ctx context.Context, call *mediation.Call) error {
	cdr := call.FinalCdr
	if cdr == nil {
		return fmt.Errorf("call %s has no billable branch to record", call.CallID)
	}

	cid, err := r.getOrCreateCallIDKey(ctx, call.CallID)
	if err != nil {
		return err
	}

	tx, err := r.nc.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning call record transaction: %w", err)
	}

	if err := r.writeCallRecordTx(ctx, tx, cid, cdr); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.WithError(rbErr).Error("Rollback failed after call record error")
		}
		metrics.PersistError()
		return fmt.Errorf("writing call record for %s: %w", call.CallID, err)
	}

	if err := tx.Commit(); err != nil {
		metrics.PersistError()
		return fmt.Errorf("committing call record for %s: %w", call.CallID, err)
	}

	metrics.RecordPersisted()
	return nil
}

func (r *Repository) writeCallRecordTx(ctx context.Context, tx *sql.Tx, cid int64, cdr *mediation.Cdr) error {
	var prevID int64
	err := tx.QueryRowContext(ctx, "SELECT calls_id FROM callids2calls WHERE callid_id = ?", cid).Scan(&prevID)
	switch {
	case err == sql.ErrNoRows:
		// first write for this call id

	case err != nil:
		return fmt.Errorf("checking for previous record: %w", err)

	default:
		r.logger.WithField("callid", cdr.CallID).Debug("Clobbering previous call record")
		if _, err := tx.ExecContext(ctx, "DELETE FROM calls WHERE id = ?", prevID); err != nil {
			return fmt.Errorf("deleting previous record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM callids2calls WHERE callid_id = ?", cid); err != nil {
			return fmt.Errorf("deleting previous mapping: %w", err)
		}
	}

	// A missing originating carrier is written as the '?' placeholder so the
	// gap is visible in billing reports.
	cFrom, cFrom5 := cdr.CFrom, cdr.CFrom5
	if cFrom == "" {
		cFrom = "?"
	}
	if cFrom5 == "" {
		cFrom5 = "?"
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO calls (
			c_from, c_from5, c_to, c_to5, rspcode, fstatus,
			t_start, t_confirm, t_end,
			s_setup, s_connected, s_connected_r, s_total,
			anum, anum2, a_country, a_state, a_lata, a_ocn, a_jtype,
			bnum, b_lrn, b_country, b_state, b_lata, b_ocn, b_jtype,
			xstate, call_price, ruleid, ptgroup, cp_nodes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cFrom, cFrom5, nullString(cdr.CTo), nullString(cdr.CTo5), cdr.LastRC, cdr.Status,
		nullTime(cdr.Start), nullTime(cdr.Confirm), nullTime(cdr.End),
		cdr.SetupSeconds, cdr.ConnectedSeconds, cdr.RoundedSeconds, cdr.TotalSeconds,
		nullString(cdr.ANum), nullString(cdr.ANum2), nullString(cdr.ACountry),
		nullString(cdr.AState), nullString(cdr.ALATA), nullString(cdr.AOCN), nullString(cdr.AJType),
		nullString(cdr.BNum), nullString(cdr.BLRN), nullString(cdr.BCountry),
		nullString(cdr.BState), nullString(cdr.BLATA), nullString(cdr.BOCN), nullString(cdr.BJType),
		nullString(cdr.Jurisdiction), cdr.Price, cdr.RuleID, cdr.PTGroup,
		strings.Join(cdr.CPNodes, ","),
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}

	callsID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted record id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO callids2calls (callid_id, calls_id) VALUES (?, ?)", cid, callsID); err != nil {
		return fmt.Errorf("inserting call id mapping: %w", err)
	}

	return nil
}

// getOrCreateCallIDKey returns the surrogate key for a Call-Id, creating the
// mapping row if absent. A concurrent insert of the same Call-Id loses to
// the unique index and falls back to re-reading.
func (r *Repository) getOrCreateCallIDKey(ctx context.Context, callID string) (int64, error) {
	var id int64
	err := r.nc.db.QueryRowContext(ctx, "SELECT id FROM callids WHERE callid = ?", callID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("looking up call id key: %w", err)
	}

	res, err := r.nc.db.ExecContext(ctx, "INSERT IGNORE INTO callids (callid) VALUES (?)", callID)
	if err != nil {
		return 0, fmt.Errorf("creating call id key: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 1 {
		if id, err := res.LastInsertId(); err == nil {
			return id, nil
		}
	}

	// lost the race; the row exists now
	if err := r.nc.db.QueryRowContext(ctx, "SELECT id FROM callids WHERE callid = ?", callID).Scan(&id); err != nil {
		return 0, fmt.Errorf("re-reading call id key: %w", err)
	}
	return id, nil
}

// Rate source operation (rates.Source)

// RoutePrice returns the per-minute rate for a (price group, rule id) pair
// from the price tables. Absence is a result, not an error.
func (r *Repository) RoutePrice(ctx context.Context, ptgroup int, ruleID int64) (float64, bool, error) {
	var mprice float64
	err := r.nc.db.QueryRowContext(ctx,
		"SELECT mprice FROM price_tables WHERE ruleid = ? AND ptgroup = ?",
		ruleID, ptgroup,
	).Scan(&mprice)

	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying route price: %w", err)
	}

	return mprice, true, nil
}

// Numbering registry (nanpa.Registry)

// NanpaRegistry is a database-backed numbering-plan registry. Lookup errors
// are logged and reported as absence; a failed dip degrades the record, it
// never fails mediation.
type NanpaRegistry struct {
	repo *Repository
}

// NanpaRegistry returns the numbering-plan registry view of this repository.
func (r *Repository) NanpaRegistry() *NanpaRegistry {
	return &NanpaRegistry{repo: r}
}

// Lookup maps a domestic number to its state, LATA, and OCN.
func (n *NanpaRegistry) Lookup(number string) (nanpa.NumberInfo, bool) {
	key := nanpa.PrefixKey(number)
	if key == "" {
		return nanpa.NumberInfo{}, false
	}

	ctx, cancel := n.repo.nc.getContext()
	defer cancel()

	var info nanpa.NumberInfo
	err := n.repo.nc.db.QueryRowContext(ctx,
		"SELECT state, lata, ocn FROM nanpa_prefixes WHERE prefix = ?", key,
	).Scan(&info.State, &info.LATA, &info.OCN)

	if err == sql.ErrNoRows {
		return nanpa.NumberInfo{}, false
	}
	if err != nil {
		n.repo.logger.WithError(err).WithField("prefix", key).Error("Numbering registry lookup failed")
		return nanpa.NumberInfo{}, false
	}

	return info, true
}

// Reporting operations

// GetCallRecords returns finalized call records whose end time falls inside
// [from, to), joined with their Call-Id and, where still present, the rate
// and archived route rule used. The joins are LEFT so records never silently
// disappear when a price table entry is removed.
func (r *Repository) GetCallRecords(ctx context.Context, from, to time.Time, limit int) ([]*CallRecord, error) {
	query := `
		SELECT C.id, I.callid,
		       C.c_from, C.c_from5, C.c_to, C.c_to5, C.rspcode, C.fstatus,
		       C.t_start, C.t_confirm, C.t_end,
		       C.s_setup, C.s_connected, C.s_connected_r, C.s_total,
		       C.anum, C.anum2, C.a_country, C.a_state, C.a_lata, C.a_ocn, C.a_jtype,
		       C.bnum, C.b_lrn, C.b_country, C.b_state, C.b_lata, C.b_ocn, C.b_jtype,
		       C.xstate, C.call_price, C.ruleid, C.ptgroup, C.cp_nodes,
		       PT.mprice, A.prefix, A.groupid
		  FROM calls C
		  JOIN callids2calls IC ON IC.calls_id = C.id
		  JOIN callids I ON IC.callid_id = I.id
		  LEFT JOIN price_tables PT ON PT.ruleid = C.ruleid AND PT.ptgroup = C.ptgroup
		  LEFT JOIN dr_rules_cp_archive A ON A.ruleid = C.ruleid
		 WHERE C.t_end >= ? AND C.t_end < ?
		 ORDER BY C.t_end ASC`
	args := []interface{}{from, to}
	query, args = appendLimit(query, args, limit)

	rows, err := r.nc.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying call records: %w", err)
	}
	defer rows.Close()

	var records []*CallRecord
	for rows.Next() {
		rec := &CallRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.CallID,
			&rec.CFrom, &rec.CFrom5, &rec.CTo, &rec.CTo5, &rec.RspCode, &rec.FStatus,
			&rec.TStart, &rec.TConfirm, &rec.TEnd,
			&rec.SSetup, &rec.SConnected, &rec.SConnectedR, &rec.STotal,
			&rec.ANum, &rec.ANum2, &rec.ACountry, &rec.AState, &rec.ALATA, &rec.AOCN, &rec.AJType,
			&rec.BNum, &rec.BLRN, &rec.BCountry, &rec.BState, &rec.BLATA, &rec.BOCN, &rec.BJType,
			&rec.XState, &rec.CallPrice, &rec.RuleID, &rec.PTGroup, &rec.CPNodes,
			&rec.MPrice, &rec.RoutePattern, &rec.RouteGroup,
		); err != nil {
			return nil, fmt.Errorf("scanning call record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading call records: %w", err)
	}

	return records, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
