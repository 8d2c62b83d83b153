// Package auditlog 管理风控与引擎事件的审计日志，方便后续排查/可视化。
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Severity 标记风控事件的严重程度。
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// RiskEvent 是一条风控裁决记录。Details 为任意 JSON，状态接口按字段摘取。
type RiskEvent struct {
	ID        int64           `json:"id"`
	Timestamp int64           `json:"ts"`
	Symbol    string          `json:"symbol"`
	Rule      string          `json:"rule"`
	Severity  Severity        `json:"severity"`
	Metric    float64         `json:"metric"`
	Threshold float64         `json:"threshold"`
	Admitted  bool            `json:"admitted"`
	Reason    string          `json:"reason"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// EngineEvent 是一条执行引擎状态迁移记录。
type EngineEvent struct {
	ID            int64  `json:"id"`
	Timestamp     int64  `json:"ts"`
	Symbol        string `json:"symbol"`
	CorrelationID string `json:"correlation_id"`
	FromState     string `json:"from_state"`
	ToState       string `json:"to_state"`
	Note          string `json:"note,omitempty"`
}

// RiskEventQuery 用于筛选风控事件。
type RiskEventQuery struct {
	Symbol   string
	Rule     string
	Severity Severity
	Limit    int
	Offset   int
}

// AuditStore 以独立 SQLite 连接写审计事件，与主库分文件避免写放大。
type AuditStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// New 初始化 SQLite 审计存储。
func New(path string) (*AuditStore, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureAuditSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &AuditStore{db: db, path: path}, nil
}

// Close 关闭底层 DB。
func (s *AuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureAuditSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS risk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			rule TEXT NOT NULL,
			severity TEXT NOT NULL,
			metric REAL NOT NULL DEFAULT 0,
			threshold REAL NOT NULL DEFAULT 0,
			admitted INTEGER NOT NULL DEFAULT 0,
			reason TEXT,
			details_json TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_ts ON risk_events(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_symbol_ts ON risk_events(symbol, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_rule ON risk_events(rule);`,
		`CREATE TABLE IF NOT EXISTS engine_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			correlation_id TEXT,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			note TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_engine_events_ts ON engine_events(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_engine_events_correlation ON engine_events(correlation_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRiskEvent 写入一条风控事件。
func (s *AuditStore) InsertRiskEvent(ctx context.Context, ev RiskEvent) (int64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("audit store 未初始化")
	}
	ts := ev.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	details := ""
	if len(ev.Details) > 0 {
		details = string(ev.Details)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO risk_events
			(ts, symbol, rule, severity, metric, threshold, admitted, reason, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts,
		strings.ToUpper(strings.TrimSpace(ev.Symbol)),
		ev.Rule,
		string(ev.Severity),
		ev.Metric,
		ev.Threshold,
		boolToInt(ev.Admitted),
		ev.Reason,
		details,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// InsertEngineEvent 写入一条引擎状态迁移事件。
func (s *AuditStore) InsertEngineEvent(ctx context.Context, ev EngineEvent) (int64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("audit store 未初始化")
	}
	ts := ev.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO engine_events
			(ts, symbol, correlation_id, from_state, to_state, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts,
		strings.ToUpper(strings.TrimSpace(ev.Symbol)),
		ev.CorrelationID,
		ev.FromState,
		ev.ToState,
		ev.Note,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func buildRiskEventFilter(q RiskEventQuery) (string, []interface{}) {
	var args []interface{}
	var sb strings.Builder
	sb.WriteString(" WHERE 1=1")
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		sb.WriteString(" AND symbol=?")
		args = append(args, sym)
	}
	if q.Rule != "" {
		sb.WriteString(" AND rule=?")
		args = append(args, q.Rule)
	}
	if q.Severity != "" {
		sb.WriteString(" AND severity=?")
		args = append(args, string(q.Severity))
	}
	return sb.String(), args
}

// ListRiskEvents 返回最新的风控事件，支持按 symbol/rule/severity 过滤。
func (s *AuditStore) ListRiskEvents(ctx context.Context, q RiskEventQuery) ([]RiskEvent, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("audit store 未初始化")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	filterSQL, args := buildRiskEventFilter(q)
	query := `SELECT id, ts, symbol, rule, severity, metric, threshold, admitted, reason, details_json
		FROM risk_events` + filterSQL + ` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []RiskEvent
	for rows.Next() {
		var (
			ev       RiskEvent
			admitted int
			reason   sql.NullString
			details  sql.NullString
			severity string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Symbol, &ev.Rule, &severity,
			&ev.Metric, &ev.Threshold, &admitted, &reason, &details); err != nil {
			return nil, err
		}
		ev.Severity = Severity(severity)
		ev.Admitted = admitted != 0
		ev.Reason = reason.String
		if raw := strings.TrimSpace(details.String); raw != "" {
			ev.Details = json.RawMessage(raw)
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}

// ListEngineEvents 返回某标的最近的引擎状态迁移，symbol 为空时不过滤。
func (s *AuditStore) ListEngineEvents(ctx context.Context, symbol string, limit int) ([]EngineEvent, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("audit store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	base := `SELECT id, ts, symbol, correlation_id, from_state, to_state, note FROM engine_events`
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		rows, err = db.QueryContext(ctx, base+` WHERE symbol=? ORDER BY ts DESC, id DESC LIMIT ?`, sym, limit)
	} else {
		rows, err = db.QueryContext(ctx, base+` ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []EngineEvent
	for rows.Next() {
		var (
			ev   EngineEvent
			corr sql.NullString
			note sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Symbol, &corr, &ev.FromState, &ev.ToState, &note); err != nil {
			return nil, err
		}
		ev.CorrelationID = corr.String
		ev.Note = note.String
		list = append(list, ev)
	}
	return list, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
