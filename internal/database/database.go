package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"moul.io/zapgorm2"

	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/models"
)

type DataBase struct {
	*gorm.DB
}

type DuplicateKey struct {
	nested error
}

func (e *DuplicateKey) Error() string {
	return e.nested.Error()
}

func (e *DuplicateKey) Unwrap() error {
	return e.nested
}

func IsDuplicateKey(err error) bool {
	duplicateKey := &DuplicateKey{}
	return errors.As(err, &duplicateKey)
}

// gorm does not surface constraint violations itself:
// https://github.com/go-gorm/gorm/issues/4037
func isUniqueViolation(err error) bool {
	perr, ok := err.(*pgconn.PgError)
	if ok {
		return perr.Code == "23505"
	}
	return false
}

func MakeDSN(conf *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		conf.DataBase.Host,
		conf.DataBase.Port,
		conf.DataBase.User,
		conf.DataBase.Pass,
		conf.DataBase.Name,
	)
}

func OpenDataBase(logger *zap.Logger, dsn string) (*DataBase, error) {
	zapLogger := zapgorm2.New(logger.Named("gorm"))
	zapLogger.SetAsDefault()
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: zapLogger,
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&models.PipelineRun{}, &models.GateResult{})
	if err != nil {
		return nil, err
	}

	return &DataBase{db}, nil
}

func (db *DataBase) CreateRun(run *models.PipelineRun) error {
	err := db.Create(run).Error
	if err != nil && isUniqueViolation(err) {
		return &DuplicateKey{err}
	}
	return err
}

func (db *DataBase) UpdateRunStatus(id string, status models.RunStatus, finishedAt *time.Time) error {
	values := map[string]interface{}{"status": status}
	if finishedAt != nil {
		values["finished_at"] = finishedAt
	}

	res := db.Model(&models.PipelineRun{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected < 1 {
		return fmt.Errorf("unknown run %s", id)
	}
	return nil
}

// MarkSuperseded finalizes a run that a newer trigger replaced. A run
// that already finalized stays untouched.
func (db *DataBase) MarkSuperseded(id, by string) error {
	return db.Model(&models.PipelineRun{}).
		Where("id = ? AND status IN ?", id, []string{models.RunStatusPending, models.RunStatusRunning}).
		Updates(map[string]interface{}{
			"status":        models.RunStatusCanceled,
			"superseded":    true,
			"superseded_by": by,
			"finished_at":   time.Now(),
		}).Error
}

// SaveGateResults upserts on (run_id, gate), so persisting a re-run of
// the same run is idempotent.
func (db *DataBase) SaveGateResults(results []models.GateResult) error {
	if len(results) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}, {Name: "gate"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "exit_code", "output", "infra", "error",
			"allowed_failure", "log_path", "started_at", "duration",
		}),
	}).Create(&results).Error
}

func (db *DataBase) FindRun(id string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := db.First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (db *DataBase) ListRunResults(runID string) ([]models.GateResult, error) {
	results := make([]models.GateResult, 0)
	err := db.Order("id").Find(&results, "run_id = ?", runID).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (db *DataBase) ListRuns(branch string, limit int) ([]models.PipelineRun, error) {
	runs := make([]models.PipelineRun, 0)

	query := db.Order("created_at DESC")
	if branch != "" {
		query = query.Where("branch = ?", branch)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (db *DataBase) LatestRunForBranch(branch string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := db.Where("branch = ?", branch).Order("created_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// PruneRuns deletes finalized runs created before the cutoff, together
// with their gate results. In-flight runs are kept regardless of age.
func (db *DataBase) PruneRuns(olderThan time.Time) (int64, error) {
	finalized := []string{models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusCanceled}

	stale := db.Model(&models.PipelineRun{}).
		Select("id").
		Where("created_at < ? AND status IN ?", olderThan, finalized)

	err := db.Where("run_id IN (?)", stale).Delete(&models.GateResult{}).Error
	if err != nil {
		return 0, err
	}

	res := db.Where("created_at < ? AND status IN ?", olderThan, finalized).Delete(&models.PipelineRun{})
	return res.RowsAffected, res.Error
}
