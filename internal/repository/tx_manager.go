package repository

import (
	"context"

	"gorm.io/gorm"
)

type contextKey string

const txKey contextKey = "gorm_tx"

// TransactionManager manages database transactions via context injection.
// A RunInTx nested inside another joins the outer transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type transactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey, tx)
		return fn(txCtx)
	})
}

// GetDB extracts the transaction DB from context if present, otherwise returns root DB.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}

// Repositories bundles every repository over one storage backend.
type Repositories struct {
	Tx          TransactionManager
	Requests    RequestRepository
	Records     ApprovalRecordRepository
	Bindings    BindingRepository
	Blocks      BlockRepository
	Org         OrgRepository
	Users       UserRepository
	Assignments AssignmentRepository
	Audit       AuditRepository
	Statistics  StatisticsRepository
}

// NewGormRepositories wires the postgres-backed implementations.
func NewGormRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Tx:          NewTransactionManager(db),
		Requests:    NewRequestRepository(db),
		Records:     NewApprovalRecordRepository(db),
		Bindings:    NewBindingRepository(db),
		Blocks:      NewBlockRepository(db),
		Org:         NewOrgRepository(db),
		Users:       NewUserRepository(db),
		Assignments: NewAssignmentRepository(db),
		Audit:       NewAuditRepository(db),
		Statistics:  NewStatisticsRepository(db),
	}
}
