package audit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of a pgx pool or transaction the recorder needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEntry = `
INSERT INTO file_audit_log
	(action, file_id, actor_id, tenant_id, filename, success, reason_code, created_at)
VALUES
	($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), $8)`

// Postgres appends entries to the file_audit_log table.
type Postgres struct {
	db Execer
}

// NewPostgres creates a recorder backed by db.
func NewPostgres(db Execer) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	_, err := p.db.Exec(ctx, insertEntry,
		string(e.Action), e.FileID, e.ActorID, e.TenantID, e.Filename,
		e.Success, e.ReasonCode, e.Timestamp,
	)
	if err != nil {
		return errors.Join(ErrRecord, err)
	}
	return nil
}
