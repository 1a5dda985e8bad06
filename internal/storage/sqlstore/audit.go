package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	auditmodels "passgate/internal/audit/models"
	id "passgate/pkg/domain"
	"passgate/pkg/platform/sentinel"
)

const auditColumns = `seq, id, actor_id, action, entity_type, entity_id, changes,
	origin_ip, origin_user_agent, origin_request_id, occurred_at, prev_hash, hash, anonymized_at`

type auditStore struct{ s *Store }

func (a *auditStore) LastHash(ctx context.Context, entityType auditmodels.EntityType, entityID string) (string, error) {
	s := a.s
	if s.dialect == Postgres {
		// Held until commit, so appends to one chain are serialized.
		if _, err := s.exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended(?, 0))`,
			string(entityType)+":"+entityID); err != nil {
			return "", fmt.Errorf("lock audit chain: %w", err)
		}
	}
	var hash string
	err := s.queryRow(ctx, `SELECT hash FROM audit_logs WHERE entity_type = ? AND entity_id = ? ORDER BY seq DESC LIMIT 1`,
		string(entityType), entityID).Scan(&hash)
	if err != nil {
		if errors.Is(s.mapErr(err), sentinel.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read audit chain head: %w", s.mapErr(err))
	}
	return hash, nil
}

func (a *auditStore) Append(ctx context.Context, e *auditmodels.Entry) error {
	s := a.s
	var actor any
	if e.ActorID != nil {
		actor = e.ActorID.String()
	}
	var changes any
	if len(e.Changes) > 0 {
		changes = string(e.Changes)
	}
	var ip, ua, reqID any
	if e.Origin != nil {
		ip, ua, reqID = nullString(e.Origin.IP), nullString(e.Origin.UserAgent), nullString(e.Origin.RequestID)
	}
	err := s.queryRow(ctx, `INSERT INTO audit_logs
		(id, actor_id, action, entity_type, entity_id, changes, origin_ip, origin_user_agent, origin_request_id, occurred_at, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		e.ID.String(), actor, string(e.Action), string(e.EntityType), e.EntityID, changes,
		ip, ua, reqID, s.timeArg(e.Timestamp), e.PrevHash, e.Hash,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", s.mapErr(err))
	}
	return nil
}

func (a *auditStore) List(ctx context.Context, f auditmodels.Filter) ([]*auditmodels.Entry, error) {
	s := a.s
	var (
		where []string
		args  []any
	)
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID.String())
	}
	if !f.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, s.timeArg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, s.timeArg(f.To))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*auditmodels.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (a *auditStore) AnonymizeBefore(ctx context.Context, cutoff time.Time, limit int, now time.Time) (int, error) {
	s := a.s
	res, err := s.exec(ctx, `UPDATE audit_logs
		SET actor_id = NULL, origin_ip = NULL, origin_user_agent = NULL, origin_request_id = NULL, anonymized_at = ?
		WHERE seq IN (
			SELECT seq FROM audit_logs
			WHERE anonymized_at IS NULL AND occurred_at < ?
			ORDER BY occurred_at, seq
			LIMIT ?
		)`, s.timeArg(now), s.timeArg(cutoff), limit)
	if err != nil {
		return 0, fmt.Errorf("anonymize audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func scanEntry(row rowScanner) (*auditmodels.Entry, error) {
	var (
		e                      auditmodels.Entry
		rawID, action, etype   string
		actor, ip, ua, reqID   sql.NullString
		changes                []byte
		occurredAt, anonymized dbTime
	)
	if err := row.Scan(&e.Seq, &rawID, &actor, &action, &etype, &e.EntityID, &changes,
		&ip, &ua, &reqID, &occurredAt, &e.PrevHash, &e.Hash, &anonymized); err != nil {
		return nil, err
	}
	entryUUID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse audit id: %w", err)
	}
	e.ID = id.AuditID(entryUUID)
	if actor.Valid {
		actorUUID, err := uuid.Parse(actor.String)
		if err != nil {
			return nil, fmt.Errorf("parse actor id: %w", err)
		}
		actorID := id.UserID(actorUUID)
		e.ActorID = &actorID
	}
	e.Action = auditmodels.Action(action)
	e.EntityType = auditmodels.EntityType(etype)
	if len(changes) > 0 {
		e.Changes = changes
	}
	if ip.Valid || ua.Valid || reqID.Valid {
		e.Origin = &auditmodels.Origin{IP: ip.String, UserAgent: ua.String, RequestID: reqID.String}
	}
	e.Timestamp = occurredAt.Time
	e.AnonymizedAt = anonymized.Ptr()
	return &e, nil
}
