package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type Download struct {
	ID           int64
	DocumentID   string
	Title        string
	CaseFolder   string
	Path         string
	DownloadedAt int64
}

type RecordDownloadParams struct {
	DocumentID   string
	Title        string
	CaseFolder   string
	Path         string
	DownloadedAt int64
}

const recordDownload = `
INSERT INTO downloads (document_id, title, case_folder, path, downloaded_at)
VALUES (?, ?, ?, ?, ?)
`

func (q *Queries) RecordDownload(ctx context.Context, arg RecordDownloadParams) error {
	_, err := q.db.ExecContext(ctx, recordDownload,
		arg.DocumentID,
		arg.Title,
		arg.CaseFolder,
		arg.Path,
		arg.DownloadedAt,
	)
	return err
}

const listByDocumentID = `
SELECT id, document_id, title, case_folder, path, downloaded_at
FROM downloads
WHERE document_id = ?
ORDER BY downloaded_at DESC
`

func (q *Queries) ListByDocumentID(ctx context.Context, documentID string) ([]Download, error) {
	rows, err := q.db.QueryContext(ctx, listByDocumentID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Download
	for rows.Next() {
		var d Download
		err := rows.Scan(&d.ID, &d.DocumentID, &d.Title, &d.CaseFolder, &d.Path, &d.DownloadedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const listRecent = `
SELECT id, document_id, title, case_folder, path, downloaded_at
FROM downloads
ORDER BY downloaded_at DESC
LIMIT ?
`

func (q *Queries) ListRecent(ctx context.Context, limit int64) ([]Download, error) {
	rows, err := q.db.QueryContext(ctx, listRecent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Download
	for rows.Next() {
		var d Download
		err := rows.Scan(&d.ID, &d.DocumentID, &d.Title, &d.CaseFolder, &d.Path, &d.DownloadedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const countForCase = `
SELECT COUNT(*) FROM downloads WHERE case_folder = ?
`

func (q *Queries) CountForCase(ctx context.Context, caseFolder string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countForCase, caseFolder)
	var count int64
	err := row.Scan(&count)
	return count, err
}
