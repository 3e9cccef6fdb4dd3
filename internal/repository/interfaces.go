package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/trailquest/checkin-service/internal/models"
)

var ErrNotFound = errors.New("not found")

// SceneRepository reads checkpoint definitions. Scenes are owned by the
// authoring subsystem; this service never writes them.
type SceneRepository interface {
	GetSceneByID(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error)
}

// ScanRepository handles the append-only scan history for game sessions.
type ScanRepository interface {
	// AppendScan inserts one attempt row. Rows are immutable once written.
	AppendScan(ctx context.Context, rec *models.ScanRecord) error

	// LastScanWithLocation returns the most recent prior scan for the
	// session that carries a location, or ErrNotFound.
	LastScanWithLocation(ctx context.Context, sessionID uuid.UUID) (*models.ScanRecord, error)

	// CountScansSince counts attempts for a session/scene pair at or
	// after the given instant.
	CountScansSince(ctx context.Context, sessionID, sceneID uuid.UUID, since time.Time) (int, error)

	// RecentFingerprints returns up to limit non-empty device
	// fingerprints for the session, most recent first.
	RecentFingerprints(ctx context.Context, sessionID uuid.UUID, limit int) ([]string, error)

	// ScanHistory returns the session's attempts in chronological order.
	ScanHistory(ctx context.Context, sessionID uuid.UUID) ([]models.ScanRecord, error)
}
