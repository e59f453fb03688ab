package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Local checkpoints are stored under a "local/" prefix, peer clients'
// checkpoint documents under "peer/"; both live in the checkpoints table.
const (
	localCheckpointPrefix = "local/"
	peerCheckpointPrefix  = "peer/"
)

func (r *documentRepository) GetLocalCheckpoint(ctx context.Context, id string) (string, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM checkpoints WHERE id = ?`, localCheckpointPrefix+id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get local checkpoint %q: %w", id, err)
	}
	return body, nil
}

func (r *documentRepository) SetLocalCheckpoint(ctx context.Context, id, body string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, body) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET body = excluded.body`,
		localCheckpointPrefix+id, body)
	if err != nil {
		return fmt.Errorf("set local checkpoint %q: %w", id, err)
	}
	return nil
}

func (r *documentRepository) GetPeerCheckpoint(ctx context.Context, id string) (string, string, error) {
	var body, rev string
	err := r.db.QueryRowContext(ctx,
		`SELECT body, rev FROM checkpoints WHERE id = ?`, peerCheckpointPrefix+id).Scan(&body, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("peer checkpoint %q: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("get peer checkpoint %q: %w", id, err)
	}
	return body, rev, nil
}

func (r *documentRepository) SetPeerCheckpoint(ctx context.Context, id, body, rev string) (string, error) {
	newRev := bumpCheckpointRev(rev)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, body, rev) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET body = excluded.body, rev = excluded.rev`,
		peerCheckpointPrefix+id, body, newRev)
	if err != nil {
		return "", fmt.Errorf("set peer checkpoint %q: %w", id, err)
	}
	return newRev, nil
}

// bumpCheckpointRev increments a checkpoint document revision of the form
// "0-<n>".
func bumpCheckpointRev(rev string) string {
	n := 0
	if _, suffix, ok := strings.Cut(rev, "-"); ok {
		n, _ = strconv.Atoi(suffix)
	}
	return "0-" + strconv.Itoa(n+1)
}

func (r *documentRepository) SetCookie(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO cookies (raw) VALUES (?)`, raw)
	if err != nil {
		return fmt.Errorf("store cookie: %w", err)
	}
	return nil
}

func (r *documentRepository) Cookies(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT raw FROM cookies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	defer rows.Close()

	var cookies []string
	for rows.Next() {
		var raw string
		if err = rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan cookie row: %w", err)
		}
		cookies = append(cookies, raw)
	}
	return cookies, rows.Err()
}
