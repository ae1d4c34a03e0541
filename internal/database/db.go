package database

import (
	"fmt"
	"strings"
	"time"

	"debtapproval/internal/config"
	"debtapproval/internal/model"
	"debtapproval/internal/workflow"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewConnection opens the postgres pool and migrates the schema.
// Driver errors such as unique violations are translated to gorm's sentinel errors.
func NewConnection(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table and the open-request guard index.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Brand{},
		&model.Branch{},
		&model.Agent{},
		&model.RoleScopeBinding{},
		&model.AssignmentCursor{},
		&model.BlockedItem{},
		&model.Request{},
		&model.ArchivedRequest{},
		&model.ApprovalRecord{},
		&model.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := db.Exec(openRequestIndexSQL()).Error; err != nil {
		return fmt.Errorf("create open request index: %w", err)
	}
	return nil
}

// openRequestIndexSQL allows at most one live request per agent.
func openRequestIndexSQL() string {
	statuses := workflow.NonTerminalStatuses()
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return "CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_open_agent ON requests (agent_id) WHERE status IN (" +
		strings.Join(quoted, ", ") + ")"
}
