package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"guildhall.org/internal/governance"
)

var _ governance.StateStore = (*Store)(nil)

// SaveOrganization upserts the snapshot of one organization.
func (s *Store) SaveOrganization(ctx context.Context, snap governance.OrgSnapshot) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal organization: %w", err)
	}
	info := snap.Organization
	_, err = s.db.ExecContext(ctx, `
		insert into organizations (id, name, owner, state, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (id) do update
		set name = excluded.name, state = excluded.state, updated_at = now()
	`, info.ID, info.Name, info.Owner, state, info.CreatedAt)
	return err
}

// LoadOrganizations returns every stored organization in creation order.
func (s *Store) LoadOrganizations(ctx context.Context) ([]governance.OrgSnapshot, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, state
		from organizations
		order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []governance.OrgSnapshot
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var snap governance.OrgSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode organization %s: %w", id, err)
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
