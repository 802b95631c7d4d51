package identity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
)

// postgresDirectory keeps identities in a pgvector table. A single pgx.Conn
// is not safe for concurrent use, so access is serialized.
type postgresDirectory struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

func NewPostgres(ctx context.Context, connString string) (Directory, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, xerrors.Errorf("connecting to postgres: %w", err)
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, xerrors.Errorf("failed to initialize database schema: %w", err)
	}

	return &postgresDirectory{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS recognitions (
			id BIGSERIAL PRIMARY KEY,
			identity_id TEXT REFERENCES identities(id),
			similarity DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			recognized_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS recognitions_identity_id_idx ON recognitions (identity_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

func (d *postgresDirectory) ListKnownIdentities(ctx context.Context) ([]model.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.conn.Query(ctx, "SELECT id, name, embedding::text FROM identities ORDER BY id")
	if err != nil {
		return nil, xerrors.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var identities []model.Identity
	for rows.Next() {
		var id model.Identity
		var vec string
		if err := rows.Scan(&id.ID, &id.Name, &vec); err != nil {
			return nil, err
		}
		id.Embedding, err = parseVector(vec)
		if err != nil {
			return nil, xerrors.Errorf("identity %s: %w", id.ID, err)
		}
		identities = append(identities, id)
	}

	return identities, rows.Err()
}

func (d *postgresDirectory) RecordMatch(ctx context.Context, recognition model.Recognition) error {
	if recognition.Status == "" {
		recognition.Status = model.RecognitionSuccess
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.conn.Exec(ctx, `
		INSERT INTO recognitions (identity_id, similarity, status, recognized_at)
		VALUES ($1, $2, $3, $4)
	`, recognition.IdentityID, recognition.Similarity, recognition.Status, recognition.Timestamp)
	return err
}

func (d *postgresDirectory) Enroll(ctx context.Context, identity model.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.conn.Exec(ctx, `
		INSERT INTO identities (id, name, embedding)
		VALUES ($1, $2, $3::vector)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, embedding = EXCLUDED.embedding
	`, identity.ID, identity.Name, vecToString(identity.Embedding))
	return err
}

func (d *postgresDirectory) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Close(ctx)
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%f", v)
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, xerrors.Errorf("invalid vector component %q: %w", p, err)
		}
		vec[i] = v
	}
	return vec, nil
}
