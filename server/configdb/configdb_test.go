package configdb

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *ConfigDB {
	t.Helper()
	db, err := NewConfigDB(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "config.sqlite"))
	require.NoError(t, err)
	return db
}

func TestDefaultConfig(t *testing.T) {
	db := setup(t)
	cfg, err := db.GetConfig()
	require.NoError(t, err)
	require.Equal(t, "original", cfg.Profile)
	require.True(t, cfg.Adaptive)
	require.Equal(t, 1, cfg.ExpectedDetections)
	require.Equal(t, float32(30), cfg.FusionMaxDistance)
}

func TestSetConfig(t *testing.T) {
	db := setup(t)
	cfg, err := db.GetConfig()
	require.NoError(t, err)

	cfg.Profile = "permissive"
	cfg.AutoProfile = true
	cfg.SegmentDefectsModel = "/opt/coplescan/models/defects-seg.onnx"
	require.NoError(t, db.SetConfig(cfg))

	again, err := db.GetConfig()
	require.NoError(t, err)
	require.Equal(t, "permissive", again.Profile)
	require.True(t, again.AutoProfile)
	require.Equal(t, "/opt/coplescan/models/defects-seg.onnx", again.SegmentDefectsModel)
}

func TestSetConfigValidation(t *testing.T) {
	db := setup(t)
	cfg, err := db.GetConfig()
	require.NoError(t, err)

	cfg.Profile = "nonsense"
	require.Error(t, db.SetConfig(cfg))

	cfg = InspectionConfig{}
	require.Error(t, cfg.Validate())

	good, _ := db.GetConfig()
	good.FusionMinOverlap = 1.5
	require.Error(t, good.Validate())
}

func TestVariables(t *testing.T) {
	db := setup(t)

	v, err := db.GetVariable("never-set")
	require.NoError(t, err)
	require.Equal(t, "", v)

	require.NoError(t, db.SetVariable("calibratedAt", "2026-08-12"))
	v, err = db.GetVariable("calibratedAt")
	require.NoError(t, err)
	require.Equal(t, "2026-08-12", v)

	require.NoError(t, db.SetVariable("calibratedAt", "2026-08-28"))
	v, err = db.GetVariable("calibratedAt")
	require.NoError(t, err)
	require.Equal(t, "2026-08-28", v)
}
