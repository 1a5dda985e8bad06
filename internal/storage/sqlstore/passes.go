package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	passmodels "passgate/internal/pass/models"
	id "passgate/pkg/domain"
)

const passColumns = `id, token, holder_name, holder_org, holder_email, holder_phone, photo_ref,
	status, valid_from, valid_until, notes, issued_by, created_at, updated_at,
	expiry_notified_at, contact_scrubbed_at`

type passStore struct{ s *Store }

func (p *passStore) Create(ctx context.Context, pass *passmodels.Pass) error {
	s := p.s
	_, err := s.exec(ctx, `INSERT INTO passes (`+passColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pass.ID.String(), pass.Token, pass.HolderName, pass.HolderOrg, pass.HolderEmail, pass.HolderPhone, pass.PhotoRef,
		string(pass.Status), s.timeArg(pass.ValidFrom), s.timeArg(pass.ValidUntil), pass.Notes, pass.IssuedBy.String(),
		s.timeArg(pass.CreatedAt), s.timeArg(pass.UpdatedAt),
		s.nullTimeArg(pass.ExpiryNotifiedAt), s.nullTimeArg(pass.ContactScrubbedAt),
	)
	if err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}
	return nil
}

func (p *passStore) FindByID(ctx context.Context, passID id.PassID) (*passmodels.Pass, error) {
	return p.findOne(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ?`, passID.String())
}

func (p *passStore) FindByIDForUpdate(ctx context.Context, passID id.PassID) (*passmodels.Pass, error) {
	return p.findOne(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ?`+p.s.forUpdate(), passID.String())
}

func (p *passStore) FindByTokenForUpdate(ctx context.Context, token string) (*passmodels.Pass, error) {
	return p.findOne(ctx, `SELECT `+passColumns+` FROM passes WHERE token = ?`+p.s.forUpdate(), token)
}

func (p *passStore) findOne(ctx context.Context, query string, args ...any) (*passmodels.Pass, error) {
	pass, err := scanPass(p.s.queryRow(ctx, query, args...))
	if err != nil {
		return nil, p.s.mapErr(err)
	}
	return pass, nil
}

func (p *passStore) TransitionStatus(ctx context.Context, passID id.PassID, from, to passmodels.Status, now time.Time) (bool, error) {
	s := p.s
	res, err := s.exec(ctx, `UPDATE passes SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), s.timeArg(now), passID.String(), string(from))
	if err != nil {
		return false, fmt.Errorf("transition pass status: %w", err)
	}
	return affected(res)
}

func (p *passStore) ListEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*passmodels.Pass, error) {
	s := p.s
	return p.list(ctx, `SELECT `+passColumns+` FROM passes
		WHERE valid_until < ? AND contact_scrubbed_at IS NULL AND (holder_email <> '' OR holder_phone <> '')
		ORDER BY valid_until LIMIT ?`, s.timeArg(cutoff), limit)
}

func (p *passStore) ListExpiring(ctx context.Context, from, to time.Time, limit int) ([]*passmodels.Pass, error) {
	s := p.s
	return p.list(ctx, `SELECT `+passColumns+` FROM passes
		WHERE status = ? AND expiry_notified_at IS NULL AND valid_until >= ? AND valid_until <= ?
		ORDER BY valid_until LIMIT ?`,
		string(passmodels.StatusActive), s.timeArg(from), s.timeArg(to), limit)
}

func (p *passStore) list(ctx context.Context, query string, args ...any) ([]*passmodels.Pass, error) {
	rows, err := p.s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var out []*passmodels.Pass
	for rows.Next() {
		pass, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		out = append(out, pass)
	}
	return out, rows.Err()
}

func (p *passStore) MarkExpiryNotified(ctx context.Context, passID id.PassID, at time.Time) (bool, error) {
	s := p.s
	res, err := s.exec(ctx, `UPDATE passes SET expiry_notified_at = ? WHERE id = ? AND expiry_notified_at IS NULL`,
		s.timeArg(at), passID.String())
	if err != nil {
		return false, fmt.Errorf("mark expiry notified: %w", err)
	}
	return affected(res)
}

func (p *passStore) ScrubContact(ctx context.Context, passID id.PassID, at time.Time) (bool, error) {
	s := p.s
	res, err := s.exec(ctx, `UPDATE passes SET holder_email = '', holder_phone = '', contact_scrubbed_at = ?, updated_at = ?
		WHERE id = ? AND contact_scrubbed_at IS NULL`,
		s.timeArg(at), s.timeArg(at), passID.String())
	if err != nil {
		return false, fmt.Errorf("scrub pass contact: %w", err)
	}
	return affected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(row rowScanner) (*passmodels.Pass, error) {
	var (
		pass                         passmodels.Pass
		rawID, rawIssuedBy, status   string
		validFrom, validUntil        dbTime
		createdAt, updatedAt         dbTime
		expiryNotified, contactScrub dbTime
	)
	if err := row.Scan(&rawID, &pass.Token, &pass.HolderName, &pass.HolderOrg, &pass.HolderEmail, &pass.HolderPhone, &pass.PhotoRef,
		&status, &validFrom, &validUntil, &pass.Notes, &rawIssuedBy, &createdAt, &updatedAt,
		&expiryNotified, &contactScrub); err != nil {
		return nil, err
	}
	passUUID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse pass id: %w", err)
	}
	issuer, err := uuid.Parse(rawIssuedBy)
	if err != nil {
		return nil, fmt.Errorf("parse issued_by: %w", err)
	}
	pass.ID = id.PassID(passUUID)
	pass.IssuedBy = id.UserID(issuer)
	pass.Status = passmodels.Status(status)
	pass.ValidFrom = validFrom.Time
	pass.ValidUntil = validUntil.Time
	pass.CreatedAt = createdAt.Time
	pass.UpdatedAt = updatedAt.Time
	pass.ExpiryNotifiedAt = expiryNotified.Ptr()
	pass.ContactScrubbedAt = contactScrub.Ptr()
	return &pass, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
