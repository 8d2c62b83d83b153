// Package gormstore 以 gorm+sqlite 实现主库。
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/store"
	storemodel "github.com/qq148376839/trading-system/internal/store/model"
)

type GormStore struct {
	db *gorm.DB
}

// New 打开（必要时创建）sqlite 主库并完成迁移。
func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&storemodel.PositionModel{},
		&storemodel.AccountStateModel{},
		&storemodel.TradeRecordModel{},
		&storemodel.CredentialModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite+WAL：少量并行度够用（状态接口只读 + 单写入方）。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ store.Store = (*GormStore)(nil)

// ---------------------------- 成交落库 ----------------------------

// ApplyFill 在单事务内写入：成交记录 + 持仓 upsert + 账户状态。
// 任一步失败整体回滚，账本内存状态随之不提交。
func (s *GormStore) ApplyFill(ctx context.Context, mut store.FillMutation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trade := newTradeRecordModel(mut.Trade)
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("写入成交记录失败: %w", err)
		}
		pos := newPositionModel(mut.NewPosition)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_cost", "updated_at"}),
		}).Create(&pos).Error; err != nil {
			return fmt.Errorf("更新持仓失败: %w", err)
		}
		acct := newAccountStateModel(mut.NewAccount)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"cash", "daily_realized_pnl", "day_start_equity", "trade_date", "updated_at",
			}),
		}).Create(&acct).Error; err != nil {
			return fmt.Errorf("更新账户状态失败: %w", err)
		}
		return nil
	})
}

func (s *GormStore) InsertTradeRecord(ctx context.Context, rec store.TradeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	model := newTradeRecordModel(rec)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListTradeRecords(ctx context.Context, symbol string, limit int) ([]store.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Model(&storemodel.TradeRecordModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	var models []storemodel.TradeRecordModel
	if err := query.Order("trade_time DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeRecordModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) LastTradeTimes(ctx context.Context) (map[string]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	type row struct {
		Symbol string
		Latest int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&storemodel.TradeRecordModel{}).
		Select("symbol, MAX(trade_time) AS latest").
		Group("symbol").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		if r.Latest > 0 {
			out[r.Symbol] = time.Unix(r.Latest, 0)
		}
	}
	return out, nil
}

func (s *GormStore) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&storemodel.TradeRecordModel{}).
		Where("trade_time >= ?", since.Unix()).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ---------------------------- 持仓与账户 ----------------------------

func (s *GormStore) LoadPositions(ctx context.Context) ([]store.PositionRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []storemodel.PositionModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.PositionRow, 0, len(models))
	for _, m := range models {
		out = append(out, store.PositionRow{
			Symbol:    m.Symbol,
			Quantity:  m.Quantity,
			AvgCost:   m.AvgCost,
			UpdatedAt: time.Unix(m.UpdatedAtUnix, 0),
		})
	}
	return out, nil
}

func (s *GormStore) LoadAccountState(ctx context.Context) (store.AccountStateRow, bool, error) {
	if s == nil || s.db == nil {
		return store.AccountStateRow{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m storemodel.AccountStateModel
	if err := s.db.WithContext(ctx).Where("id = ?", 1).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.AccountStateRow{}, false, nil
		}
		return store.AccountStateRow{}, false, err
	}
	return accountStateModelToRow(m), true, nil
}

func (s *GormStore) SaveAccountState(ctx context.Context, row store.AccountStateRow) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := newAccountStateModel(row)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cash", "daily_realized_pnl", "day_start_equity", "trade_date", "updated_at",
		}),
	}).Create(&m).Error
}

// ---------------------------- 凭证 ----------------------------

func (s *GormStore) SaveCredential(ctx context.Context, cred credential.Credential) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	now := time.Now()
	m := storemodel.CredentialModel{
		AccountType:   string(cred.AccountType),
		AppKey:        cred.AppKey,
		AppSecret:     cred.AppSecret,
		AccessToken:   cred.AccessToken,
		IssuedAtUnix:  cred.IssuedAt.Unix(),
		ExpiresAtUnix: cred.ExpiresAt.Unix(),
		UpdatedAtUnix: now.Unix(),
	}
	// 同一账户类型只保留一条生效凭证：整行覆盖即原子替换。
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"app_key", "app_secret", "access_token", "issued_at", "expire_time", "updated_at",
		}),
	}).Create(&m).Error
}

func (s *GormStore) LoadCredential(ctx context.Context, accountType credential.AccountType) (credential.Credential, bool, error) {
	if s == nil || s.db == nil {
		return credential.Credential{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m storemodel.CredentialModel
	if err := s.db.WithContext(ctx).Where("account_type = ?", string(accountType)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credential.Credential{}, false, nil
		}
		return credential.Credential{}, false, err
	}
	return credential.Credential{
		AccountType: credential.AccountType(m.AccountType),
		AppKey:      m.AppKey,
		AppSecret:   m.AppSecret,
		AccessToken: m.AccessToken,
		IssuedAt:    time.Unix(m.IssuedAtUnix, 0),
		ExpiresAt:   time.Unix(m.ExpiresAtUnix, 0),
	}, true, nil
}

// ---------------------------- 模型转换 ----------------------------

func newTradeRecordModel(rec store.TradeRecord) storemodel.TradeRecordModel {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return storemodel.TradeRecordModel{
		Symbol:        strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:          strings.ToUpper(strings.TrimSpace(rec.Side)),
		Price:         rec.Price,
		Quantity:      rec.Quantity,
		Amount:        rec.Amount,
		Status:        string(rec.Status),
		CorrelationID: rec.CorrelationID,
		Reason:        rec.Reason,
		Details:       datatypes.JSON(rec.Details),
		CreatedAtUnix: rec.CreatedAt.Unix(),
	}
}

func tradeRecordModelToRecord(m storemodel.TradeRecordModel) store.TradeRecord {
	return store.TradeRecord{
		ID:            m.ID,
		Symbol:        m.Symbol,
		Side:          m.Side,
		Price:         m.Price,
		Quantity:      m.Quantity,
		Amount:        m.Amount,
		Status:        store.TradeStatus(m.Status),
		CorrelationID: m.CorrelationID,
		Reason:        m.Reason,
		Details:       json.RawMessage(m.Details),
		CreatedAt:     time.Unix(m.CreatedAtUnix, 0),
	}
}

func newPositionModel(row store.PositionRow) storemodel.PositionModel {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now()
	}
	return storemodel.PositionModel{
		Symbol:        strings.ToUpper(strings.TrimSpace(row.Symbol)),
		Quantity:      row.Quantity,
		AvgCost:       row.AvgCost,
		UpdatedAtUnix: row.UpdatedAt.Unix(),
	}
}

func newAccountStateModel(row store.AccountStateRow) storemodel.AccountStateModel {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now()
	}
	return storemodel.AccountStateModel{
		ID:               1,
		Cash:             row.Cash,
		DailyRealizedPnL: row.DailyRealizedPnL,
		DayStartEquity:   row.DayStartEquity,
		TradeDate:        row.TradeDate,
		UpdatedAtUnix:    row.UpdatedAt.Unix(),
	}
}

func accountStateModelToRow(m storemodel.AccountStateModel) store.AccountStateRow {
	return store.AccountStateRow{
		Cash:             m.Cash,
		DailyRealizedPnL: m.DailyRealizedPnL,
		DayStartEquity:   m.DayStartEquity,
		TradeDate:        m.TradeDate,
		UpdatedAt:        time.Unix(m.UpdatedAtUnix, 0),
	}
}
