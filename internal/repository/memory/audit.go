package memory

import (
	"context"
	"maps"
	"slices"

	"dice-wager-engine/internal/model"
)

// AuditRepository stores the audit trail in memory.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func copyAudit(e *model.AuditEntry) *model.AuditEntry {
	c := *e
	c.Parameters = maps.Clone(e.Parameters)
	c.NaturalFaces = slices.Clone(e.NaturalFaces)
	c.DisplayedFaces = slices.Clone(e.DisplayedFaces)
	return &c
}

// Insert appends an audit entry. Audit writes are never undone.
func (r *AuditRepository) Insert(ctx context.Context, e *model.AuditEntry) error {
	return r.db.write(ctx, func() (func(), error) {
		r.db.audit = append(r.db.audit, copyAudit(e))
		return nil, nil
	})
}

// List returns audit entries matching filter, newest first.
func (r *AuditRepository) List(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	limit := limitOrDefault(f.Limit, 100, 1000)
	var entries []*model.AuditEntry
	r.db.read(func() {
		for i := len(r.db.audit) - 1; i >= 0 && len(entries) < limit; i-- {
			e := r.db.audit[i]
			switch {
			case f.UserID != nil && e.UserID != *f.UserID:
			case f.Tier != "" && e.Tier != f.Tier:
			case f.Mode != "" && e.Mode != f.Mode:
			case f.From != nil && e.CreatedAt.Before(*f.From):
			case f.To != nil && !e.CreatedAt.Before(*f.To):
			default:
				entries = append(entries, copyAudit(e))
			}
		}
	})
	return entries, nil
}
