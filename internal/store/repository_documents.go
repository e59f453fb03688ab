package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/revtree"
	"github.com/MKhiriev/go-doc-sync/models"
)

// Document row flag bits.
const (
	docFlagDeleted        = 1
	docFlagConflicted     = 2
	docFlagHasAttachments = 4
)

type documentRepository struct {
	db  *DB
	log *logger.Logger
}

// NewDocumentStore opens the sqlite-backed document store.
func NewDocumentStore(ctx context.Context, dsn string, log *logger.Logger) (DocumentStore, error) {
	db, err := NewConnectSQLite(ctx, dsn, log)
	if err != nil {
		return nil, err
	}
	return &documentRepository{db: db, log: log}, nil
}

func (r *documentRepository) Close() error {
	return r.db.Close()
}

func (r *documentRepository) UUID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE name = 'uuid'`).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("read database uuid: %w", err)
	}
	return id, nil
}

func (r *documentRepository) LastSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE name = 'last_sequence'`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read last sequence: %w", err)
	}
	return seq, nil
}

func (r *documentRepository) DocumentCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents WHERE flags & ? = 0`, docFlagDeleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

func (r *documentRepository) GetDocument(ctx context.Context, key string) (*models.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT key, rev_id, sequence, flags, body FROM documents WHERE key = ?`, key)

	var doc models.Document
	var flags int
	var body sql.NullString
	if err := row.Scan(&doc.Key, &doc.RevID, &doc.Sequence, &flags, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %q: %w", key, ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("get document %q: %w", key, err)
	}
	doc.Deleted = flags&docFlagDeleted != 0
	doc.Conflicted = flags&docFlagConflicted != 0
	doc.HasAttachments = flags&docFlagHasAttachments != 0
	if body.Valid {
		doc.Body = []byte(body.String)
	}
	return &doc, nil
}

func (r *documentRepository) GetTree(ctx context.Context, key string) (*revtree.Tree, error) {
	var raw []byte
	var seq uint64
	err := r.db.QueryRowContext(ctx,
		`SELECT rev_tree, sequence FROM documents WHERE key = ?`, key).Scan(&raw, &seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %q: %w", key, ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("get revision tree %q: %w", key, err)
	}
	return revtree.DecodeTree(raw, seq)
}

func (r *documentRepository) PutRevision(ctx context.Context, rev models.IncomingRev) (models.PutResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PutResult{}, fmt.Errorf("begin put transaction: %w", err)
	}
	defer tx.Rollback()

	tree, exists, err := loadTree(ctx, tx, rev.DocID)
	if err != nil {
		return models.PutResult{}, err
	}

	var flags revtree.Flags
	if rev.Deleted {
		flags |= revtree.Deleted
	}
	if rev.HasAttachments {
		flags |= revtree.HasAttachments
	}
	if rev.Local {
		// Locally authored revisions keep their bodies when superseded so
		// a later conflict still has a resolvable common ancestor.
		flags |= revtree.KeepBody
	}

	res, err := tree.InsertHistory(rev.History, rev.Body, flags, !rev.NoConflicts)
	if err != nil {
		return models.PutResult{}, fmt.Errorf("put revision %s/%s: %w", rev.DocID, rev.RevID, err)
	}
	if res.Added == 0 {
		// Already known; nothing changes.
		return models.PutResult{Added: 0, Sequence: res.Rev.Sequence}, nil
	}

	seq, err := nextSequence(ctx, tx)
	if err != nil {
		return models.PutResult{}, err
	}
	tree.SetSequence(res.Rev, seq)

	if err = saveTree(ctx, tx, rev.DocID, tree, seq, exists); err != nil {
		return models.PutResult{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.PutResult{}, fmt.Errorf("commit put transaction: %w", err)
	}

	return models.PutResult{
		Added:           res.Added,
		Sequence:        seq,
		CreatedConflict: res.CreatedConflict,
	}, nil
}

func (r *documentRepository) Changes(ctx context.Context, since uint64, limit int, opts models.ChangesOptions) ([]models.Change, error) {
	builder := sq.Select("sequence", "key", "rev_id", "flags", "coalesce(length(body), 0)").
		From("documents").
		Where(sq.Gt{"sequence": since}).
		OrderBy("sequence")
	if opts.SkipDeleted {
		builder = builder.Where(fmt.Sprintf("flags & %d = 0", docFlagDeleted))
	}
	if len(opts.DocIDs) > 0 {
		builder = builder.Where(sq.Eq{"key": opts.DocIDs})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build changes query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes since %d: %w", since, err)
	}
	defer rows.Close()

	var changes []models.Change
	for rows.Next() {
		var c models.Change
		var flags int
		if err = rows.Scan(&c.Sequence, &c.DocID, &c.RevID, &flags, &c.BodySize); err != nil {
			return nil, fmt.Errorf("scan change row: %w", err)
		}
		c.Deleted = flags&docFlagDeleted != 0
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func loadTree(ctx context.Context, tx *sql.Tx, key string) (*revtree.Tree, bool, error) {
	var raw []byte
	var seq uint64
	err := tx.QueryRowContext(ctx,
		`SELECT rev_tree, sequence FROM documents WHERE key = ?`, key).Scan(&raw, &seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return revtree.NewTree(), false, nil
	case err != nil:
		return nil, false, fmt.Errorf("load revision tree %q: %w", key, err)
	}
	tree, err := revtree.DecodeTree(raw, seq)
	if err != nil {
		return nil, false, fmt.Errorf("load revision tree %q: %w", key, err)
	}
	return tree, true, nil
}

func saveTree(ctx context.Context, tx *sql.Tx, key string, tree *revtree.Tree, seq uint64, exists bool) error {
	raw, err := tree.Encode()
	if err != nil {
		return fmt.Errorf("encode revision tree %q: %w", key, err)
	}

	current := tree.Current()
	flags := 0
	if current.IsDeleted() {
		flags |= docFlagDeleted
	}
	if tree.IsConflicted() {
		flags |= docFlagConflicted
	}
	if current.HasAttachments() {
		flags |= docFlagHasAttachments
	}

	var body any
	if len(current.Body) > 0 {
		body = current.Body
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET rev_id = ?, sequence = ?, flags = ?, body = ?, rev_tree = ? WHERE key = ?`,
			current.ID, seq, flags, body, raw, key)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (key, rev_id, sequence, flags, body, rev_tree) VALUES (?, ?, ?, ?, ?, ?)`,
			key, current.ID, seq, flags, body, raw)
	}
	if err != nil {
		return fmt.Errorf("save document %q: %w", key, err)
	}
	return nil
}

func nextSequence(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var seq uint64
	err := tx.QueryRowContext(ctx,
		`UPDATE meta SET value = value + 1 WHERE name = 'last_sequence' RETURNING value`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("advance last sequence: %w", err)
	}
	return seq, nil
}
