package repository

import (
	"time"

	"github.com/wfunc/spectro-head/internal/models"
	"gorm.io/gorm"
)

// TransactionLogRepository 串口事务日志仓库
type TransactionLogRepository struct {
	db *gorm.DB
}

// NewTransactionLogRepository 创建事务日志仓库
func NewTransactionLogRepository(db *gorm.DB) *TransactionLogRepository {
	return &TransactionLogRepository{
		db: db,
	}
}

// Create 创建日志记录
func (r *TransactionLogRepository) Create(log *models.TransactionLog) error {
	return r.db.Create(log).Error
}

// CreateBatch 批量创建日志记录
func (r *TransactionLogRepository) CreateBatch(logs []*models.TransactionLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.CreateInBatches(logs, 100).Error
}

// GetByID 根据ID获取日志
func (r *TransactionLogRepository) GetByID(id uint) (*models.TransactionLog, error) {
	var log models.TransactionLog
	err := r.db.First(&log, id).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// GetByOperationID 获取一次操作的全部事务（按发送顺序）
func (r *TransactionLogRepository) GetByOperationID(operationID string) ([]*models.TransactionLog, error) {
	var logs []*models.TransactionLog
	err := r.db.Where("operation_id = ?", operationID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询日志
func (r *TransactionLogRepository) Query(query *models.TransactionLogQuery) ([]*models.TransactionLog, int64, error) {
	db := r.db.Model(&models.TransactionLog{})

	// 构建查询条件
	if query.OperationID != "" {
		db = db.Where("operation_id = ?", query.OperationID)
	}
	if query.Target != "" {
		db = db.Where("target = ?", query.Target)
	}
	if query.Outcome != "" {
		db = db.Where("outcome = ?", query.Outcome)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}

	// 统计总数
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.TransactionLog
	err := db.Order("id DESC").Find(&logs).Error
	return logs, total, err
}

// CountByOutcome 按结果统计
func (r *TransactionLogRepository) CountByOutcome(outcome models.TransactionOutcome) (int64, error) {
	var count int64
	err := r.db.Model(&models.TransactionLog{}).
		Where("outcome = ?", outcome).
		Count(&count).Error
	return count, err
}

// Prune 删除指定时间之前的日志
func (r *TransactionLogRepository) Prune(before time.Time) (int64, error) {
	result := r.db.Unscoped().
		Where("created_at < ?", before).
		Delete(&models.TransactionLog{})
	return result.RowsAffected, result.Error
}
