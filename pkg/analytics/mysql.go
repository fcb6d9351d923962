package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"grit-server/pkg/config"
	"grit-server/pkg/telemetry"
)

const createScorePacketsTable = `
CREATE TABLE IF NOT EXISTS score_packets (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	session_id VARCHAR(128) NOT NULL,
	ts BIGINT NOT NULL,
	composite DOUBLE NOT NULL,
	breakdown_risk DOUBLE NOT NULL,
	micro_score DOUBLE NOT NULL,
	biomech_score DOUBLE NOT NULL,
	pressure_weight DOUBLE NOT NULL,
	pressure VARCHAR(16) NOT NULL,
	stress VARCHAR(16) NOT NULL,
	payload JSON,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	INDEX idx_score_session_ts (session_id, ts)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const createGameEventsTable = `
CREATE TABLE IF NOT EXISTS game_events (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	session_id VARCHAR(128) NOT NULL,
	event_type VARCHAR(64) NOT NULL,
	label VARCHAR(128),
	outcome VARCHAR(64),
	ts BIGINT NOT NULL,
	metadata JSON,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	INDEX idx_event_session_ts (session_id, ts)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// MySQLStore is the append-mostly analytical store for score history and
// game events. Rows are never updated in place.
type MySQLStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewMySQLStore opens the analytical database and verifies connectivity.
func NewMySQLStore(cfg config.DatabaseConfig, logger *logrus.Logger) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &MySQLStore{db: db, logger: logger}

	logger.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
	}).Info("Connected to analytical store")

	return store, nil
}

// Migrate creates the analytical tables if they do not exist.
func (s *MySQLStore) Migrate() error {
	for _, stmt := range []string{createScorePacketsTable, createGameEventsTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	s.logger.Info("Analytical store migrations complete")
	return nil
}

// Close closes the database connection pool.
func (s *MySQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health pings the database.
func (s *MySQLStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("analytical store health check failed: %w", err)
	}
	return nil
}

// AppendScores writes a score batch in one multi-row insert.
func (s *MySQLStore) AppendScores(ctx context.Context, sessionID string, scores []telemetry.ScorePacket) error {
	if len(scores) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO score_packets
		(session_id, ts, composite, breakdown_risk, micro_score, biomech_score, pressure_weight, pressure, stress, payload) VALUES `)
	args := make([]interface{}, 0, len(scores)*10)
	for i, score := range scores {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		payload, err := json.Marshal(score)
		if err != nil {
			return fmt.Errorf("failed to marshal score payload: %w", err)
		}
		args = append(args, sessionID, score.Timestamp, score.Composite, score.BreakdownRisk,
			score.MicroScore, score.BiomechScore, score.PressureWt, string(score.Pressure),
			string(score.Stress), payload)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert score batch: %w", err)
	}
	return nil
}

// InsertEvent writes one game event row.
func (s *MySQLStore) InsertEvent(ctx context.Context, event telemetry.GameEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO game_events
		(session_id, event_type, label, outcome, ts, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		event.SessionID, event.Type, event.Label, event.Outcome, event.Timestamp, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert game event: %w", err)
	}
	return nil
}

// QueryScores returns score rows for a session within [from, to],
// chronological order, capped at limit.
func (s *MySQLStore) QueryScores(ctx context.Context, sessionID string, from, to int64, limit int) ([]telemetry.ScorePacket, error) {
	if limit <= 0 {
		limit = 500
	}
	if to == 0 {
		to = time.Now().UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM score_packets WHERE session_id = ? AND ts BETWEEN ? AND ? ORDER BY ts ASC LIMIT ?`,
		sessionID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []telemetry.ScorePacket
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		var score telemetry.ScorePacket
		if err := json.Unmarshal(payload, &score); err != nil {
			s.logger.WithError(err).Warn("Skipping unreadable score payload")
			continue
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}
