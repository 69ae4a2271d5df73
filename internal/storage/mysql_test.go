package storage

import (
	"context"
	"testing"

	"resume-insight-go/internal/constants"
	"resume-insight-go/internal/types"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockGorm 在sqlmock之上打开一个GORM会话
// TranslateError与生产配置保持一致，方言错误才会翻译成gorm.ErrDuplicatedKey
func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func duplicateKeyErr() error {
	return &mysqldriver.MySQLError{
		Number:  1062,
		Message: "Duplicate entry 'upload-1' for key 'idx_analysis_jobs_source_ref'",
	}
}

func jobColumns() []string {
	return []string{"job_uuid", "source_ref", "status"}
}

// 两个并发提交同时未命中时，后到者的事务快照建立于赢家提交之前，
// 事务内回查看不到赢家的行。回查必须落在独立会话上，
// 这样后到的调用方才能拿到赢家的任务而不是错误。
func TestCreateOrGetAnalysisJobDuplicateKeyRefetchOutsideTx(t *testing.T) {
	sessionDB, sessionMock := newMockGorm(t)
	txDB, txMock := newMockGorm(t)

	m := &MySQL{db: sessionDB}

	txMock.ExpectBegin()
	tx := txDB.Begin()
	require.NoError(t, tx.Error)

	// 事务内首查未命中
	txMock.ExpectQuery("SELECT .* FROM `analysis_jobs` WHERE source_ref").
		WillReturnRows(sqlmock.NewRows(jobColumns()))
	// 事务内插入撞唯一索引
	txMock.ExpectExec("INSERT INTO `analysis_jobs`").
		WillReturnError(duplicateKeyErr())
	// 回查只允许出现在独立会话上；事务会话没有更多预期，
	// 走事务回查会直接失败
	sessionMock.ExpectQuery("SELECT .* FROM `analysis_jobs` WHERE source_ref").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("winner-uuid", "upload-1", constants.StatusProcessing))

	job, created, err := m.CreateOrGetAnalysisJob(context.Background(), tx, "upload-1", nil, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner-uuid", job.JobUUID)

	assert.NoError(t, txMock.ExpectationsWereMet())
	assert.NoError(t, sessionMock.ExpectationsWereMet())
}

func TestCreateOrGetAnalysisJobDuplicateKeyWithoutTx(t *testing.T) {
	gdb, mock := newMockGorm(t)
	m := &MySQL{db: gdb}

	mock.ExpectQuery("SELECT .* FROM `analysis_jobs` WHERE source_ref").
		WillReturnRows(sqlmock.NewRows(jobColumns()))
	mock.ExpectExec("INSERT INTO `analysis_jobs`").
		WillReturnError(duplicateKeyErr())
	mock.ExpectQuery("SELECT .* FROM `analysis_jobs` WHERE source_ref").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("winner-uuid", "upload-1", constants.StatusProcessing))

	job, created, err := m.CreateOrGetAnalysisJob(context.Background(), nil, "upload-1", nil, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner-uuid", job.JobUUID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetAnalysisJobReturnsExisting(t *testing.T) {
	gdb, mock := newMockGorm(t)
	m := &MySQL{db: gdb}

	mock.ExpectQuery("SELECT .* FROM `analysis_jobs` WHERE source_ref").
		WillReturnRows(sqlmock.NewRows(jobColumns()).
			AddRow("existing-uuid", "upload-1", constants.StatusCompleted))

	job, created, err := m.CreateOrGetAnalysisJob(context.Background(), nil, "upload-1", nil, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing-uuid", job.JobUUID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteAnalysisJobTerminalGuard(t *testing.T) {
	gdb, mock := newMockGorm(t)
	m := &MySQL{db: gdb}

	// 守卫更新零行命中，任务存在 => 已终结
	mock.ExpectExec("UPDATE `analysis_jobs` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `analysis_jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))

	err := m.CompleteAnalysisJob(context.Background(), "job-1", &types.AnalysisOutcome{})
	assert.ErrorIs(t, err, ErrJobAlreadyTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailAnalysisJobUnknownJob(t *testing.T) {
	gdb, mock := newMockGorm(t)
	m := &MySQL{db: gdb}

	// 零行命中且任务不存在 => 未知任务
	mock.ExpectExec("UPDATE `analysis_jobs` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `analysis_jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))

	err := m.FailAnalysisJob(context.Background(), "job-unknown", constants.StageExtract, "原因")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
