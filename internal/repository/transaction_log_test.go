package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/spectro-head/internal/models"
	"gorm.io/gorm"
)

// TransactionLogRepositoryTestSuite 事务日志仓库测试套件
type TransactionLogRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *TransactionLogRepository
}

// SetupSuite 设置测试套件
func (suite *TransactionLogRepositoryTestSuite) SetupSuite() {
	suite.db = SetupTestDB()
	suite.repo = NewTransactionLogRepository(suite.db)
}

// TearDownSuite 清理测试套件
func (suite *TransactionLogRepositoryTestSuite) TearDownSuite() {
	CleanupTestDB(suite.db)
}

// SetupTest 每个测试前清理表数据
func (suite *TransactionLogRepositoryTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM transaction_logs")
}

func (suite *TransactionLogRepositoryTestSuite) sampleLog(operationID string, outcome models.TransactionOutcome) *models.TransactionLog {
	return &models.TransactionLog{
		OperationID: operationID,
		Target:      "FW1",
		Sent:        "F15",
		Received:    "F10",
		Outcome:     outcome,
		Code:        0,
		Duration:    42,
	}
}

// TestCreate 创建日志记录
func (suite *TransactionLogRepositoryTestSuite) TestCreate() {
	log := suite.sampleLog("op-1", models.OutcomeSuccess)

	err := suite.repo.Create(log)
	assert.NoError(suite.T(), err)
	assert.NotZero(suite.T(), log.ID)
	assert.NotZero(suite.T(), log.Timestamp) // BeforeCreate钩子填充
	assert.False(suite.T(), log.CreatedAt.IsZero())
}

// TestCreateBatch 批量创建
func (suite *TransactionLogRepositoryTestSuite) TestCreateBatch() {
	logs := []*models.TransactionLog{
		suite.sampleLog("op-2", models.OutcomeErrorCode),
		suite.sampleLog("op-2", models.OutcomeSuccess),
		suite.sampleLog("op-2", models.OutcomeSuccess),
	}

	err := suite.repo.CreateBatch(logs)
	assert.NoError(suite.T(), err)

	var count int64
	suite.db.Model(&models.TransactionLog{}).Count(&count)
	assert.Equal(suite.T(), int64(3), count)

	// 空切片直接返回
	assert.NoError(suite.T(), suite.repo.CreateBatch(nil))
}

// TestGetByOperationID 按操作ID查询，保持发送顺序
func (suite *TransactionLogRepositoryTestSuite) TestGetByOperationID() {
	first := suite.sampleLog("op-3", models.OutcomeErrorCode)
	first.Sent = "F15"
	second := suite.sampleLog("op-3", models.OutcomeSuccess)
	second.Sent = "F1r"
	third := suite.sampleLog("op-3", models.OutcomeSuccess)
	third.Sent = "F15"
	other := suite.sampleLog("op-other", models.OutcomeSuccess)

	for _, log := range []*models.TransactionLog{first, second, third, other} {
		assert.NoError(suite.T(), suite.repo.Create(log))
	}

	logs, err := suite.repo.GetByOperationID("op-3")
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), logs, 3)
	assert.Equal(suite.T(), "F15", logs[0].Sent)
	assert.Equal(suite.T(), "F1r", logs[1].Sent)
	assert.Equal(suite.T(), "F15", logs[2].Sent)
}

// TestQuery 条件查询与分页
func (suite *TransactionLogRepositoryTestSuite) TestQuery() {
	for i := 0; i < 5; i++ {
		log := suite.sampleLog("op-4", models.OutcomeSuccess)
		assert.NoError(suite.T(), suite.repo.Create(log))
	}
	timeout := suite.sampleLog("op-5", models.OutcomeTimeout)
	timeout.Target = "FW2"
	timeout.Received = ""
	timeout.Code = 99
	assert.NoError(suite.T(), suite.repo.Create(timeout))

	// 按结果过滤
	logs, total, err := suite.repo.Query(&models.TransactionLogQuery{
		Outcome: models.OutcomeTimeout,
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), total)
	assert.Len(suite.T(), logs, 1)
	assert.Equal(suite.T(), "FW2", logs[0].Target)

	// 按目标过滤+分页
	logs, total, err = suite.repo.Query(&models.TransactionLogQuery{
		Target: "FW1",
		Limit:  2,
		Offset: 0,
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(5), total)
	assert.Len(suite.T(), logs, 2)
}

// TestCountByOutcome 按结果统计
func (suite *TransactionLogRepositoryTestSuite) TestCountByOutcome() {
	assert.NoError(suite.T(), suite.repo.Create(suite.sampleLog("op-6", models.OutcomeSuccess)))
	assert.NoError(suite.T(), suite.repo.Create(suite.sampleLog("op-6", models.OutcomeSuccess)))
	assert.NoError(suite.T(), suite.repo.Create(suite.sampleLog("op-6", models.OutcomeMismatched)))

	count, err := suite.repo.CountByOutcome(models.OutcomeSuccess)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), count)

	count, err = suite.repo.CountByOutcome(models.OutcomeMalformed)
	assert.NoError(suite.T(), err)
	assert.Zero(suite.T(), count)
}

// TestPrune 清理旧记录
func (suite *TransactionLogRepositoryTestSuite) TestPrune() {
	old := suite.sampleLog("op-7", models.OutcomeSuccess)
	old.CreatedAt = time.Now().AddDate(0, 0, -60)
	assert.NoError(suite.T(), suite.repo.Create(old))

	fresh := suite.sampleLog("op-8", models.OutcomeSuccess)
	assert.NoError(suite.T(), suite.repo.Create(fresh))

	deleted, err := suite.repo.Prune(time.Now().AddDate(0, 0, -30))
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), deleted)

	var count int64
	suite.db.Model(&models.TransactionLog{}).Count(&count)
	assert.Equal(suite.T(), int64(1), count)
}

// TestTransactionLogRepositoryTestSuite 运行测试套件
func TestTransactionLogRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(TransactionLogRepositoryTestSuite))
}
