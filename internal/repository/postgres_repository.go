package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/trailquest/checkin-service/internal/models"
)

// PostgresRepository implements SceneRepository and ScanRepository on a
// shared *sql.DB.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetSceneByID(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error) {
	const q = `
SELECT id, adventure_id, name, lat, lng, proximity_radius_m, points_reward, qr_code_required
FROM scenes WHERE id = $1
`
	var s models.Scene
	if err := r.db.QueryRowContext(ctx, q, sceneID).Scan(
		&s.ID, &s.AdventureID, &s.Name, &s.Location.Lat, &s.Location.Lng,
		&s.ProximityRadiusM, &s.PointsReward, &s.QRCodeRequired,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) AppendScan(ctx context.Context, rec *models.ScanRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var lat, lng, accuracy sql.NullFloat64
	if rec.Location != nil {
		lat = sql.NullFloat64{Float64: rec.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: rec.Location.Lng, Valid: true}
		accuracy = sql.NullFloat64{Float64: rec.Location.Accuracy, Valid: true}
	}
	const q = `
INSERT INTO scan_records (id, session_id, scene_id, scanned_at, lat, lng, accuracy, device_fingerprint, ip_address, is_valid)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.SessionID, rec.SceneID, rec.ScannedAt,
		lat, lng, accuracy, rec.DeviceFingerprint, rec.IPAddress, rec.IsValid,
	)
	return err
}

func (r *PostgresRepository) LastScanWithLocation(ctx context.Context, sessionID uuid.UUID) (*models.ScanRecord, error) {
	const q = `
SELECT id, session_id, scene_id, scanned_at, lat, lng, accuracy,
       COALESCE(device_fingerprint, ''), COALESCE(ip_address, ''), is_valid
FROM scan_records
WHERE session_id = $1 AND lat IS NOT NULL
ORDER BY scanned_at DESC
LIMIT 1
`
	rec, err := scanRow(r.db.QueryRowContext(ctx, q, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) CountScansSince(ctx context.Context, sessionID, sceneID uuid.UUID, since time.Time) (int, error) {
	const q = `
SELECT count(*) FROM scan_records
WHERE session_id = $1 AND scene_id = $2 AND scanned_at >= $3
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, sessionID, sceneID, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepository) RecentFingerprints(ctx context.Context, sessionID uuid.UUID, limit int) ([]string, error) {
	const q = `
SELECT device_fingerprint FROM scan_records
WHERE session_id = $1 AND device_fingerprint IS NOT NULL AND device_fingerprint <> ''
ORDER BY scanned_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

func (r *PostgresRepository) ScanHistory(ctx context.Context, sessionID uuid.UUID) ([]models.ScanRecord, error) {
	const q = `
SELECT id, session_id, scene_id, scanned_at, lat, lng, accuracy,
       COALESCE(device_fingerprint, ''), COALESCE(ip_address, ''), is_valid
FROM scan_records
WHERE session_id = $1
ORDER BY scanned_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScanRecord
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*models.ScanRecord, error) {
	var rec models.ScanRecord
	var lat, lng, accuracy sql.NullFloat64
	if err := row.Scan(
		&rec.ID, &rec.SessionID, &rec.SceneID, &rec.ScannedAt,
		&lat, &lng, &accuracy, &rec.DeviceFingerprint, &rec.IPAddress, &rec.IsValid,
	); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		rec.Location = &models.ScanLocation{
			Lat:      lat.Float64,
			Lng:      lng.Float64,
			Accuracy: accuracy.Float64,
		}
	}
	return &rec, nil
}
