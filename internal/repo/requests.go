package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"rewardjar/internal/db"
	"rewardjar/internal/domain"
)

const requestColumns = `id,card_id,COALESCE(customer_id,''),COALESCE(customer_card_id,''),platform,priority,status,retry_count,COALESCE(error_message,''),COALESCE(force_reason,''),metadata_json,source,next_attempt_at,COALESCE(started_at,''),created_at,updated_at,COALESCE(processed_at,'')`

func scanRequest(row interface{ Scan(...any) error }) (domain.WalletRequest, error) {
	var (
		w                          domain.WalletRequest
		platform, priority, status string
		metadata                   sql.NullString
	)
	err := row.Scan(&w.ID, &w.CardID, &w.CustomerID, &w.CustomerCardID, &platform, &priority, &status, &w.RetryCount,
		&w.ErrorMessage, &w.ForceReason, &metadata, &w.Source, &w.NextAttemptAt, &w.StartedAt, &w.CreatedAt, &w.UpdatedAt, &w.ProcessedAt)
	if err != nil {
		return w, err
	}
	w.Platform = domain.Platform(platform)
	w.Priority = domain.Priority(priority)
	w.Status = domain.RequestStatus(status)
	w.Metadata = unmarshalMetadata(metadata)
	return w, nil
}

func scanRequests(rows *sql.Rows) ([]domain.WalletRequest, error) {
	defer rows.Close()
	var res []domain.WalletRequest
	for rows.Next() {
		w, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, w domain.WalletRequest) error {
	meta, err := marshalMetadata(w.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO wallet_requests(id,card_id,customer_id,customer_card_id,platform,priority,priority_rank,status,retry_count,metadata_json,dedupe_key,source,next_attempt_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		w.ID, w.CardID, nullable(w.CustomerID), nullable(w.CustomerCardID), string(w.Platform), string(w.Priority), w.Priority.Rank(),
		string(w.Status), w.RetryCount, meta, domain.DedupeKey(w.CardID, w.CustomerID, w.Platform), sourceOrDefault(w.Source),
		w.NextAttemptAt, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.WalletRequest, error) {
	return r.GetRequestTx(ctx, nil, id)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.WalletRequest, error) {
	w, err := scanRequest(r.conn(tx).QueryRowContext(ctx, r.q(`SELECT `+requestColumns+` FROM wallet_requests WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return w, notFound("wallet request", id)
	}
	return w, err
}

// FindPending returns the pending request for a (card, customer, platform) tuple.
func (r Repo) FindPending(ctx context.Context, tx *sql.Tx, dedupeKey string) (domain.WalletRequest, error) {
	w, err := scanRequest(r.conn(tx).QueryRowContext(ctx, r.q(`SELECT `+requestColumns+` FROM wallet_requests WHERE dedupe_key=? AND status=? LIMIT 1`),
		dedupeKey, string(domain.StatusPending)))
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

// RequestUpdate describes a guarded state change: the row is only updated
// while it is still in ExpectStatus.
type RequestUpdate struct {
	ID            string
	ExpectStatus  domain.RequestStatus
	Status        domain.RequestStatus
	Priority      domain.Priority
	RetryCount    int
	ErrorMessage  string
	ForceReason   string
	Metadata      map[string]string
	NextAttemptAt string
	StartedAt     string
	ProcessedAt   string
	WorkerID      string
	UpdatedAt     string
}

// UpdateRequest applies u and reports whether the guard matched.
func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, u RequestUpdate) (bool, error) {
	meta, err := marshalMetadata(u.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := r.conn(tx).ExecContext(ctx, r.q(`UPDATE wallet_requests SET status=?,priority=?,priority_rank=?,retry_count=?,error_message=?,force_reason=?,metadata_json=?,next_attempt_at=?,started_at=?,processed_at=?,worker_id=?,updated_at=? WHERE id=? AND status=?`),
		string(u.Status), string(u.Priority), u.Priority.Rank(), u.RetryCount, nullable(u.ErrorMessage), nullable(u.ForceReason), meta,
		u.NextAttemptAt, nullable(u.StartedAt), nullable(u.ProcessedAt), nullable(u.WorkerID), u.UpdatedAt, u.ID, string(u.ExpectStatus))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// claimCandidatesQuery takes no row locks. Each candidate is claimed later by
// a conditional update, and the partial unique index on processing rows
// rejects a second claim for the same tuple.
const claimCandidatesQuery = `SELECT ` + requestColumns + ` FROM wallet_requests w
WHERE w.status=? AND w.next_attempt_at<=?
AND NOT EXISTS (SELECT 1 FROM wallet_requests p WHERE p.dedupe_key=w.dedupe_key AND p.status=?)
ORDER BY w.priority_rank ASC, w.created_at ASC, w.id ASC LIMIT ?`

// ClaimCandidates lists pending requests that are due and whose tuple has no
// request in processing, highest priority first then oldest first.
func (r Repo) ClaimCandidates(ctx context.Context, now string, limit int) ([]domain.WalletRequest, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, r.q(claimCandidatesQuery), string(domain.StatusPending), now, string(domain.StatusProcessing), limit)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// ClaimRequest moves a pending request to processing. It returns false when
// another worker won the row or the tuple already has a request in processing.
func (r Repo) ClaimRequest(ctx context.Context, tx *sql.Tx, id, workerID, now string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`UPDATE wallet_requests SET status=?,started_at=?,worker_id=?,updated_at=? WHERE id=? AND status=?`),
		string(domain.StatusProcessing), now, nullable(workerID), now, id, string(domain.StatusPending))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type RequestFilters struct {
	Status     string
	Platform   string
	CardID     string
	CustomerID string
	Source     string
	Limit      int
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.WalletRequest, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Platform != "" {
		clauses = append(clauses, "platform=?")
		args = append(args, f.Platform)
	}
	if f.CardID != "" {
		clauses = append(clauses, "card_id=?")
		args = append(args, f.CardID)
	}
	if f.CustomerID != "" {
		clauses = append(clauses, "customer_id=?")
		args = append(args, f.CustomerID)
	}
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM wallet_requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (r Repo) CountRequestsByStatus(ctx context.Context) (map[domain.RequestStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM wallet_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.RequestStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.RequestStatus(status)] = n
	}
	return res, rows.Err()
}

// OldestPendingCreatedAt returns the creation time of the oldest pending request, or "".
func (r Repo) OldestPendingCreatedAt(ctx context.Context) (string, error) {
	var ts sql.NullString
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT MIN(created_at) FROM wallet_requests WHERE status=?`), string(domain.StatusPending)).Scan(&ts)
	if err != nil {
		return "", err
	}
	return ts.String, nil
}

// FinishedSince returns requests that reached completed or failed at or after since.
func (r Repo) FinishedSince(ctx context.Context, since string, limit int) ([]domain.WalletRequest, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+requestColumns+` FROM wallet_requests WHERE status IN (?,?,?) AND processed_at>=? ORDER BY processed_at DESC LIMIT ?`),
		string(domain.StatusCompleted), string(domain.StatusFailed), string(domain.StatusDeadLetter), since, limit)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// ProcessingStartedBefore lists requests that entered processing before the cutoff.
func (r Repo) ProcessingStartedBefore(ctx context.Context, before string) ([]domain.WalletRequest, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+requestColumns+` FROM wallet_requests WHERE status=? AND started_at<? ORDER BY started_at ASC`),
		string(domain.StatusProcessing), before)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// DeleteRequestsBefore removes requests in status last updated before the cutoff.
func (r Repo) DeleteRequestsBefore(ctx context.Context, tx *sql.Tx, status domain.RequestStatus, before string) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`DELETE FROM wallet_requests WHERE status=? AND updated_at<?`), string(status), before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) DeleteRequestsBySource(ctx context.Context, tx *sql.Tx, source string) (int64, error) {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`DELETE FROM wallet_requests WHERE source=?`), source)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
