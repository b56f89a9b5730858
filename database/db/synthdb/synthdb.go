package synthdb

import (
	"strconv"

	"gorm.io/gorm"

	"github.com/synthlabs/synth-ledger/common/logging"
	"github.com/synthlabs/synth-ledger/database/models"
	"github.com/synthlabs/synth-ledger/database/models/synth"
	"github.com/synthlabs/synth-ledger/types"
)

var logger = logging.NewLoggerTag("database")

// LedgerDBApp is the database application.
type LedgerDBApp struct {
}

// Models returns the models for a given database app.
func (e *LedgerDBApp) Models() []interface{} {
	return synth.AllModels
}

// IsEmpty check if a given database is empty.
func (e *LedgerDBApp) IsEmpty(db *gorm.DB) bool {
	return !db.Migrator().HasTable("position")
}

// PreReset is executed before db is reset.
func (e *LedgerDBApp) PreReset(tx *gorm.DB) error {
	return nil
}

// PostReset is executed after db is reset.
func (e *LedgerDBApp) PostReset(tx *gorm.DB) error {
	return initSchemaVersion(tx)
}

func initSchemaVersion(db *gorm.DB) error {
	var result models.System
	err := db.Model(&models.System{}).Select("*").Where(
		"name = ?", "schema_version").Last(&result).Error
	var v int
	logger.Info("set default schema_version to 1")
	if err == nil {
		v, err = strconv.Atoi(result.Value)
		if err == nil {
			logger.Info("success to get last schema_version from system table")
		}
	}
	if res := db.Model(&models.System{}).Create(
		&models.System{
			Name:  types.SysVarSchemaVersion,
			Value: strconv.Itoa(v + 1),
		}); res.Error != nil {
		return res.Error
	}
	logger.Info("Initialized DB Schema version to %v.", v+1)
	return nil
}
