package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	presencemodels "passgate/internal/presence/models"
	id "passgate/pkg/domain"
	dErrors "passgate/pkg/domain-errors"
	"passgate/pkg/platform/sentinel"
)

const visitColumns = `id, pass_id, entry_at, exit_at, created_at`

type visitStore struct{ s *Store }

func (v *visitStore) FindOpen(ctx context.Context, passID id.PassID) (*presencemodels.Visit, error) {
	visit, err := scanVisit(v.s.queryRow(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE pass_id = ? AND exit_at IS NULL`, passID.String()))
	if err != nil {
		return nil, v.s.mapErr(err)
	}
	return visit, nil
}

func (v *visitStore) Insert(ctx context.Context, visit *presencemodels.Visit) error {
	if !visit.IsOpen() {
		return dErrors.New(dErrors.CodeInvariantViolation, "inserted visit must be open")
	}
	s := v.s
	_, err := s.exec(ctx, `INSERT INTO visits (`+visitColumns+`) VALUES (?, ?, ?, NULL, ?)`,
		visit.ID.String(), visit.PassID.String(), s.timeArg(visit.EntryAt), s.timeArg(visit.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (v *visitStore) Close(ctx context.Context, visitID id.VisitID, exitAt time.Time) error {
	s := v.s
	res, err := s.exec(ctx, `UPDATE visits SET exit_at = ? WHERE id = ? AND exit_at IS NULL`,
		s.timeArg(exitAt), visitID.String())
	if err != nil {
		return fmt.Errorf("close visit: %w", err)
	}
	applied, err := affected(res)
	if err != nil {
		return err
	}
	if !applied {
		return sentinel.ErrConflict
	}
	return nil
}

func (v *visitStore) CountOpen(ctx context.Context, passID id.PassID) (int, error) {
	var n int
	if err := v.s.queryRow(ctx, `SELECT COUNT(*) FROM visits WHERE pass_id = ? AND exit_at IS NULL`,
		passID.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open visits: %w", v.s.mapErr(err))
	}
	return n, nil
}

func (v *visitStore) ListOpen(ctx context.Context, limit int) ([]*presencemodels.Visit, error) {
	rows, err := v.s.query(ctx, `SELECT `+visitColumns+` FROM visits WHERE exit_at IS NULL ORDER BY entry_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open visits: %w", err)
	}
	defer rows.Close()

	var out []*presencemodels.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, visit)
	}
	return out, rows.Err()
}

func scanVisit(row rowScanner) (*presencemodels.Visit, error) {
	var (
		rawID, rawPassID           string
		entryAt, exitAt, createdAt dbTime
	)
	if err := row.Scan(&rawID, &rawPassID, &entryAt, &exitAt, &createdAt); err != nil {
		return nil, err
	}
	visitUUID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse visit id: %w", err)
	}
	passUUID, err := uuid.Parse(rawPassID)
	if err != nil {
		return nil, fmt.Errorf("parse visit pass id: %w", err)
	}
	return &presencemodels.Visit{
		ID:        id.VisitID(visitUUID),
		PassID:    id.PassID(passUUID),
		EntryAt:   entryAt.Time,
		ExitAt:    exitAt.Ptr(),
		CreatedAt: createdAt.Time,
	}, nil
}
