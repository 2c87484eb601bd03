package repo

import (
	"context"
	"database/sql"

	"rewardjar/internal/domain"
)

// SaveArtifact stores the artifact of a request, replacing any previous one.
func (r Repo) SaveArtifact(ctx context.Context, tx *sql.Tx, a domain.StoredArtifact) error {
	conn := r.conn(tx)
	if _, err := conn.ExecContext(ctx, r.q(`DELETE FROM wallet_artifacts WHERE request_id=?`), a.RequestID); err != nil {
		return err
	}
	_, err := conn.ExecContext(ctx, r.q(`INSERT INTO wallet_artifacts(request_id,platform,content_type,filename,body,save_url,validation_json,created_at) VALUES (?,?,?,?,?,?,?,?)`),
		a.RequestID, string(a.Platform), a.ContentType, a.Filename, a.Body, nullable(a.SaveURL), nullable(a.ValidationJSON), a.CreatedAt)
	return err
}

func (r Repo) GetArtifact(ctx context.Context, requestID string) (domain.StoredArtifact, error) {
	var a domain.StoredArtifact
	var platform string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT request_id,platform,content_type,filename,body,COALESCE(save_url,''),COALESCE(validation_json,''),created_at FROM wallet_artifacts WHERE request_id=?`), requestID).
		Scan(&a.RequestID, &platform, &a.ContentType, &a.Filename, &a.Body, &a.SaveURL, &a.ValidationJSON, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, notFound("wallet artifact", requestID)
	}
	a.Platform = domain.Platform(platform)
	return a, err
}
