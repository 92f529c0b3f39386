package store

import (
	"context"
	"fmt"
)

// PortalDocumentIDsForUser returns the portal document ids mapped to one
// user. Non-admin portal readers are restricted to this set.
func (s *Store) PortalDocumentIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT documents_id FROM users_documents WHERE users_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("portal document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GrantUserDocument maps a portal document to a user.
func (s *Store) GrantUserDocument(ctx context.Context, userID, documentID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users_documents (users_id, documents_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, documentID)
	if err != nil {
		return fmt.Errorf("grant user document: %w", err)
	}
	return nil
}

// RevokeUserDocument removes a mapping.
func (s *Store) RevokeUserDocument(ctx context.Context, userID, documentID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM users_documents WHERE users_id = $1 AND documents_id = $2
	`, userID, documentID)
	if err != nil {
		return fmt.Errorf("revoke user document: %w", err)
	}
	return nil
}
