package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/models"
)

// UpsertModelName stores the metadata for a model file, replacing any
// existing row for the same filename.
func UpsertModelName(db *sql.DB, filename string, meta models.Meta) error {
	query := `
		INSERT INTO model_names (filename, repo_id, friendly_name, downloaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			repo_id = excluded.repo_id,
			friendly_name = excluded.friendly_name,
			downloaded_at = excluded.downloaded_at,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query,
		filename, toNullString(meta.RepoID), toNullString(meta.FriendlyName),
		toNullUnix(meta.DownloadedAt), time.Now().Unix(),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// SetFriendlyName changes the display name of a model file, keeping its
// repository and download time. A file without a row gets a new one.
func SetFriendlyName(db *sql.DB, filename, friendlyName string) error {
	query := `
		INSERT INTO model_names (filename, friendly_name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			friendly_name = excluded.friendly_name,
			updated_at = excluded.updated_at
	`

	if _, err := db.Exec(query, filename, toNullString(friendlyName), time.Now().Unix()); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetModelName returns the metadata for one file.
func GetModelName(db *sql.DB, filename string) (models.Meta, error) {
	query := `
		SELECT filename, repo_id, friendly_name, downloaded_at
		FROM model_names
		WHERE filename = ?
	`

	_, meta, err := scanModelName(db.QueryRow(query, filename))
	if err == sql.ErrNoRows {
		return models.Meta{}, errors.NewNotFound("model name", filename)
	}
	if err != nil {
		return models.Meta{}, errors.NewInternal(err)
	}
	return meta, nil
}

// ListModelNames returns all stored metadata keyed by filename.
func ListModelNames(db *sql.DB) (map[string]models.Meta, error) {
	rows, err := db.Query(`SELECT filename, repo_id, friendly_name, downloaded_at FROM model_names`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := make(map[string]models.Meta)
	for rows.Next() {
		filename, meta, err := scanModelName(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out[filename] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// ReplaceModelNames swaps the whole table for names in one transaction.
func ReplaceModelNames(db *sql.DB, names map[string]models.Meta) error {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM model_names`); err != nil {
		return errors.NewInternal(err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO model_names (filename, repo_id, friendly_name, downloaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for filename, meta := range names {
		if _, err := stmt.Exec(filename, toNullString(meta.RepoID), toNullString(meta.FriendlyName),
			toNullUnix(meta.DownloadedAt), now); err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteModelName removes the metadata for one file.
func DeleteModelName(db *sql.DB, filename string) error {
	result, err := db.Exec(`DELETE FROM model_names WHERE filename = ?`, filename)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("model name", filename)
	}
	return nil
}

// NameStore adapts a *sql.DB to the download manager's metadata sink.
type NameStore struct {
	DB *sql.DB
}

// SaveModelName records the metadata of a freshly downloaded file.
func (s NameStore) SaveModelName(filename string, meta models.Meta) error {
	return UpsertModelName(s.DB, filename, meta)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModelName(row rowScanner) (string, models.Meta, error) {
	var (
		filename     string
		repoID       sql.NullString
		friendlyName sql.NullString
		downloadedAt sql.NullInt64
	)
	if err := row.Scan(&filename, &repoID, &friendlyName, &downloadedAt); err != nil {
		return "", models.Meta{}, err
	}

	meta := models.Meta{
		RepoID:       repoID.String,
		FriendlyName: friendlyName.String,
	}
	if downloadedAt.Valid {
		meta.DownloadedAt = time.Unix(downloadedAt.Int64, 0).UTC()
	}
	return filename, meta, nil
}

// toNullString stores empty strings as NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// toNullUnix stores the zero time as NULL.
func toNullUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
