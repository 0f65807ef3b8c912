package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"canon/internal/audit"
	"canon/internal/identity/models"
	"canon/internal/platform/postgres"
	"canon/pkg/platform/sentinel"
	txcontext "canon/pkg/platform/tx"
)

// OutboxAppender queues an audit event for publishing inside the current transaction.
type OutboxAppender interface {
	Append(ctx context.Context, ev audit.Event) error
}

// PostgresStore persists identities with unique partial indexes on each
// evidence column. Every mutation, its history row and its outbox row commit
// in one transaction.
type PostgresStore struct {
	db     *sql.DB
	outbox OutboxAppender
}

// NewPostgres builds the store. outbox may be nil when no relay is configured.
func NewPostgres(db *sql.DB, outbox OutboxAppender) *PostgresStore {
	return &PostgresStore{db: db, outbox: outbox}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const identityColumns = `id, verification_status, risk_score, trust_tier, risk_overridden, risk_breakdown,
	document_hash, face_embedding_id, device_fingerprint, linked_actors, observed_devices,
	total_verifications, flag_count, incident_count, last_risk_assessment_at,
	version, last_event_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, identity *models.Identity, event *audit.Event) error {
	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		identity.Stamp(event)
		breakdown, err := marshalBreakdown(identity.Breakdown)
		if err != nil {
			return err
		}
		_, err = s.execer(ctx).ExecContext(ctx, `
			INSERT INTO identities (`+identityColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`,
			identity.ID, identity.VerificationStatus, identity.RiskScore, identity.TrustTier,
			identity.RiskOverridden, breakdown,
			nullIfEmpty(identity.Fingerprints.DocumentHash),
			nullIfEmpty(identity.Fingerprints.FaceEmbeddingID),
			nullIfEmpty(identity.Fingerprints.DeviceFingerprint),
			pq.Array(identity.LinkedActors), pq.Array(identity.ObservedDevices),
			identity.Counters.TotalVerifications, identity.Counters.FlagCount, identity.Counters.IncidentCount,
			identity.Counters.LastRiskAssessmentAt,
			identity.Version, identity.LastEventAt, identity.CreatedAt, identity.UpdatedAt,
		)
		if err != nil {
			if constraint, ok := postgres.UniqueViolation(err); ok {
				if constraint == "identities_pkey" {
					return fmt.Errorf("%w: identity id %s taken", sentinel.ErrConflict, identity.ID)
				}
				return fmt.Errorf("%w: evidence already claimed (%s)", sentinel.ErrConflict, constraint)
			}
			return fmt.Errorf("insert identity: %w", err)
		}
		return s.appendEvent(ctx, *event)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

var fingerprintColumns = map[models.EvidenceField]string{
	models.FieldDocumentHash:      "document_hash",
	models.FieldFaceEmbeddingID:   "face_embedding_id",
	models.FieldDeviceFingerprint: "device_fingerprint",
}

func (s *PostgresStore) FindByFingerprint(ctx context.Context, field models.EvidenceField, value string) (*models.Identity, error) {
	column, ok := fingerprintColumns[field]
	if !ok || value == "" {
		return nil, sentinel.ErrNotFound
	}
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE `+column+` = $1`, value)
	return scanIdentity(row)
}

func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check identity exists: %w", err)
	}
	return exists, nil
}

// Mutate locks the row with SELECT ... FOR UPDATE, so concurrent mutations of
// one identity queue on the row lock while other identities proceed.
func (s *PostgresStore) Mutate(ctx context.Context, id string, fn models.MutateFunc) (*models.Identity, error) {
	var result *models.Identity
	err := txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		row := s.execer(ctx).QueryRowContext(ctx,
			`SELECT `+identityColumns+` FROM identities WHERE id = $1 FOR UPDATE`, id)
		current, err := scanIdentity(row)
		if err != nil {
			return err
		}
		before := current.Fingerprints

		event, err := fn(current)
		if err != nil {
			return err
		}
		result = current
		if event == nil {
			return nil
		}
		if current.Fingerprints != before {
			return fmt.Errorf("%w: evidence fingerprints are immutable", sentinel.ErrInvalidState)
		}

		current.Stamp(event)
		breakdown, err := marshalBreakdown(current.Breakdown)
		if err != nil {
			return err
		}
		_, err = s.execer(ctx).ExecContext(ctx, `
			UPDATE identities SET
				verification_status = $2, risk_score = $3, trust_tier = $4, risk_overridden = $5,
				risk_breakdown = $6, linked_actors = $7, observed_devices = $8,
				total_verifications = $9, flag_count = $10, incident_count = $11,
				last_risk_assessment_at = $12, version = $13, last_event_at = $14, updated_at = $15
			WHERE id = $1
		`,
			current.ID, current.VerificationStatus, current.RiskScore, current.TrustTier, current.RiskOverridden,
			breakdown, pq.Array(current.LinkedActors), pq.Array(current.ObservedDevices),
			current.Counters.TotalVerifications, current.Counters.FlagCount, current.Counters.IncidentCount,
			current.Counters.LastRiskAssessmentAt, current.Version, current.LastEventAt, current.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update identity: %w", err)
		}
		return s.appendEvent(ctx, *event)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) appendEvent(ctx context.Context, ev audit.Event) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO identity_events (id, identity_id, seq, occurred_at, action, actor_kind, actor_id,
			detail, previous_value, new_value, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		ev.ID, ev.IdentityID, ev.Seq, ev.Timestamp, ev.Action, ev.Actor.Kind, ev.Actor.ID,
		ev.Detail, nullJSON(ev.PreviousValue), nullJSON(ev.NewValue), ev.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert identity event: %w", err)
	}
	if s.outbox != nil {
		return s.outbox.Append(ctx, ev)
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, id string, afterSeq int64, limit int) ([]audit.Event, error) {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}

	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, identity_id, seq, occurred_at, action, actor_kind, actor_id,
			detail, previous_value, new_value, request_id
		FROM identity_events
		WHERE identity_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`, id, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query identity events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			ev         audit.Event
			prev, next []byte
		)
		if err := rows.Scan(&ev.ID, &ev.IdentityID, &ev.Seq, &ev.Timestamp, &ev.Action,
			&ev.Actor.Kind, &ev.Actor.ID, &ev.Detail, &prev, &next, &ev.RequestID); err != nil {
			return nil, fmt.Errorf("scan identity event: %w", err)
		}
		ev.PreviousValue = prev
		ev.NewValue = next
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) Search(ctx context.Context, filter models.SearchFilter) ([]*models.Identity, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("verification_status = $%d", filter.Status)
	}
	if filter.Tier != "" {
		add("trust_tier = $%d", filter.Tier)
	}
	if filter.MinScore != nil {
		add("risk_score >= $%d", *filter.MinScore)
	}
	if filter.MaxScore != nil {
		add("risk_score <= $%d", *filter.MaxScore)
	}
	if filter.ID != "" {
		add("id = $%d", filter.ID)
	}

	query := `SELECT ` + identityColumns + ` FROM identities`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args))
	return s.queryIdentities(ctx, query, args...)
}

func (s *PostgresStore) ListHighRisk(ctx context.Context, threshold, limit int) ([]*models.Identity, error) {
	return s.queryIdentities(ctx, `
		SELECT `+identityColumns+` FROM identities
		WHERE risk_score >= $1
		ORDER BY risk_score DESC, id
		LIMIT $2
	`, threshold, limit)
}

func (s *PostgresStore) queryIdentities(ctx context.Context, query string, args ...any) ([]*models.Identity, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()
	var out []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		i                 models.Identity
		breakdown         []byte
		doc, face, device sql.NullString
		lastAssessment    sql.NullTime
	)
	err := row.Scan(
		&i.ID, &i.VerificationStatus, &i.RiskScore, &i.TrustTier, &i.RiskOverridden, &breakdown,
		&doc, &face, &device, pq.Array(&i.LinkedActors), pq.Array(&i.ObservedDevices),
		&i.Counters.TotalVerifications, &i.Counters.FlagCount, &i.Counters.IncidentCount, &lastAssessment,
		&i.Version, &i.LastEventAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	i.Fingerprints = models.Fingerprints{
		DocumentHash:      doc.String,
		FaceEmbeddingID:   face.String,
		DeviceFingerprint: device.String,
	}
	if lastAssessment.Valid {
		t := lastAssessment.Time
		i.Counters.LastRiskAssessmentAt = &t
	}
	if len(breakdown) > 0 {
		var b models.RiskBreakdown
		if err := json.Unmarshal(breakdown, &b); err != nil {
			return nil, fmt.Errorf("decode risk breakdown: %w", err)
		}
		i.Breakdown = &b
	}
	if i.LinkedActors == nil {
		i.LinkedActors = []string{}
	}
	if i.ObservedDevices == nil {
		i.ObservedDevices = []string{}
	}
	return &i, nil
}

func marshalBreakdown(b *models.RiskBreakdown) (any, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode risk breakdown: %w", err)
	}
	return raw, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
