package configdb

import (
	"fmt"

	"github.com/coplescan/coplescan/pkg/nn"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64.
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// InspectionConfig is the station's inspection pipeline configuration.
// There is exactly one row.
type InspectionConfig struct {
	BaseModel
	StationName string `json:"stationName"`

	// Robustness profile name, see nn.ProfileByName. Ignored when AutoProfile
	// is set.
	Profile     string `json:"profile"`
	AutoProfile bool   `json:"autoProfile"`
	Adaptive    bool   `json:"adaptive"`
	Enhance     bool   `json:"enhance"`

	ExpectedDetections int `json:"expectedDetections"`
	MaxDetections      int `json:"maxDetections"`

	FusionMaxDistance float32 `json:"fusionMaxDistance"`
	FusionMinOverlap  float32 `json:"fusionMinOverlap"`
	FusionMinArea     int     `json:"fusionMinArea"`

	// Model file paths. Empty disables that stage.
	ClassifyModel       string `json:"classifyModel" gorm:"default:null"`
	DetectPartsModel    string `json:"detectPartsModel" gorm:"default:null"`
	DetectDefectsModel  string `json:"detectDefectsModel" gorm:"default:null"`
	SegmentPartsModel   string `json:"segmentPartsModel" gorm:"default:null"`
	SegmentDefectsModel string `json:"segmentDefectsModel" gorm:"default:null"`

	// Class name files (one class per line). Empty falls back to the station
	// defaults.
	PartClassFile   string `json:"partClassFile" gorm:"default:null"`
	DefectClassFile string `json:"defectClassFile" gorm:"default:null"`
}

func (c *InspectionConfig) Validate() error {
	if !c.AutoProfile {
		if _, known := nn.ProfileByName(c.Profile); !known {
			return fmt.Errorf("unknown robustness profile %q", c.Profile)
		}
	}
	if c.ExpectedDetections < 1 {
		return fmt.Errorf("expectedDetections must be >= 1")
	}
	if c.MaxDetections < 1 {
		return fmt.Errorf("maxDetections must be >= 1")
	}
	if c.FusionMinOverlap < 0 || c.FusionMinOverlap > 1 {
		return fmt.Errorf("fusionMinOverlap must be in [0,1]")
	}
	if c.FusionMaxDistance < 0 {
		return fmt.Errorf("fusionMaxDistance must be >= 0")
	}
	return nil
}

type Variable struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
}
