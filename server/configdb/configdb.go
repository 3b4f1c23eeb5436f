// Package configdb stores the station configuration: inspection settings,
// model paths, and free-form variables. It is a small sqlite database living
// next to the service.
package configdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"gorm.io/gorm"

	"github.com/coplescan/coplescan/pkg/dbh"
	"github.com/coplescan/coplescan/pkg/nn"
)

type ConfigDB struct {
	Log logs.Log
	DB  *gorm.DB
}

func NewConfigDB(logger logs.Log, dbFilename string) (*ConfigDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	c := &ConfigDB{
		Log: logger,
		DB:  db,
	}
	if err := c.ensureDefaultConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureDefaultConfig seeds a single config row so the station can run
// before anyone touches the settings API
func (c *ConfigDB) ensureDefaultConfig() error {
	count := int64(0)
	if err := c.DB.Model(&InspectionConfig{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	c.Log.Infof("No inspection config found, creating defaults")
	cfg := defaultInspectionConfig()
	return c.DB.Create(&cfg).Error
}

// GetConfig returns the station's inspection config
func (c *ConfigDB) GetConfig() (InspectionConfig, error) {
	cfg := InspectionConfig{}
	err := c.DB.First(&cfg).Error
	return cfg, err
}

// SetConfig validates and saves the inspection config
func (c *ConfigDB) SetConfig(cfg InspectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	existing, err := c.GetConfig()
	if err != nil {
		return err
	}
	cfg.ID = existing.ID
	return c.DB.Save(&cfg).Error
}

// GetVariable returns the named variable, or "" if it does not exist
func (c *ConfigDB) GetVariable(key string) (string, error) {
	v := Variable{}
	err := c.DB.Where("key = ?", key).First(&v).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	return v.Value, err
}

func (c *ConfigDB) SetVariable(key, value string) error {
	v := Variable{Key: key, Value: value}
	return c.DB.Save(&v).Error
}

func defaultInspectionConfig() InspectionConfig {
	return InspectionConfig{
		StationName:        "station-1",
		Profile:            nn.ProfileOriginal.Name,
		AutoProfile:        false,
		Adaptive:           true,
		Enhance:            true,
		ExpectedDetections: 1,
		FusionMaxDistance:  30,
		FusionMinOverlap:   0.1,
		FusionMinArea:      100,
		MaxDetections:      nn.DefaultMaxDetections,
	}
}
