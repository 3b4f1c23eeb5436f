// Package server is the station service: it owns the config and result
// databases, the inference pipeline, and the HTTP API that the line
// controller and the operator UI talk to.
package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/coplescan/coplescan/pkg/analysis"
	"github.com/coplescan/coplescan/pkg/fusion"
	"github.com/coplescan/coplescan/pkg/infer"
	"github.com/coplescan/coplescan/pkg/nn"
	"github.com/coplescan/coplescan/server/configdb"
	"github.com/coplescan/coplescan/server/resultdb"
)

type Server struct {
	Log      logs.Log
	ConfigDB *configdb.ConfigDB
	ResultDB *resultdb.ResultDB

	// One camera, one pipeline: frames analyze one at a time
	pipelineLock sync.Mutex
	models       *infer.Engine
	analyzer     *analysis.Analyzer
}

func NewServer(log logs.Log, configDBFile, resultDBFile string) (*Server, error) {
	cfgDB, err := configdb.NewConfigDB(log, configDBFile)
	if err != nil {
		return nil, err
	}
	resDB, err := resultdb.Open(log, resultDBFile)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Log:      log,
		ConfigDB: cfgDB,
		ResultDB: resDB,
	}
	cfg, err := cfgDB.GetConfig()
	if err != nil {
		return nil, err
	}
	if err := s.buildPipeline(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// buildPipeline (re)creates the inference engine and analyzer from config.
// Callers hold pipelineLock, except during construction.
func (s *Server) buildPipeline(cfg configdb.InspectionConfig) error {
	partClasses := s.loadClasses(cfg.PartClassFile, analysis.FallbackPartClass)
	defectClasses := s.loadClasses(cfg.DefectClassFile, analysis.FallbackDefectClass)

	stages := []infer.StageConfig{
		{Name: analysis.StageClassify, ModelPath: cfg.ClassifyModel, NumClasses: max(2, len(partClasses)), Kind: infer.KindClassify},
		{Name: analysis.StageDetectParts, ModelPath: cfg.DetectPartsModel, NumClasses: max(1, len(partClasses)), Kind: infer.KindDetect},
		{Name: analysis.StageDetectDefects, ModelPath: cfg.DetectDefectsModel, NumClasses: max(1, len(defectClasses)), Kind: infer.KindDetect},
		{Name: analysis.StageSegmentParts, ModelPath: cfg.SegmentPartsModel, NumClasses: max(1, len(partClasses)), Kind: infer.KindSegment},
		{Name: analysis.StageSegmentDefects, ModelPath: cfg.SegmentDefectsModel, NumClasses: max(1, len(defectClasses)), Kind: infer.KindSegment},
	}
	models, err := infer.NewEngine(s.Log, stages)
	if err != nil {
		return fmt.Errorf("building inference engine: %w", err)
	}

	if s.models != nil {
		s.models.Close()
	}
	s.models = models
	fusionOpts := fusion.DefaultOptions()
	fusionOpts.MaxDistance = cfg.FusionMaxDistance
	fusionOpts.MinOverlap = cfg.FusionMinOverlap
	fusionOpts.MinArea = cfg.FusionMinArea

	s.analyzer = analysis.NewAnalyzer(s.Log, models, &analysis.Options{
		Profile:            cfg.Profile,
		AutoProfile:        cfg.AutoProfile,
		Adaptive:           cfg.Adaptive,
		Enhance:            cfg.Enhance,
		PartClasses:        partClasses,
		DefectClasses:      defectClasses,
		ExpectedDetections: cfg.ExpectedDetections,
		MaxDetections:      cfg.MaxDetections,
		Fusion:             fusionOpts,
	})
	return nil
}

// loadClasses reads a class name file, falling back to the single-class
// station default when the file is missing or empty
func (s *Server) loadClasses(filename, fallback string) []string {
	if filename == "" {
		return []string{fallback}
	}
	classes, err := nn.LoadClassFile(filename)
	if err != nil || len(classes) == 0 {
		s.Log.Warnf("Class file %v unavailable (%v), using fallback class %q", filename, err, fallback)
		return []string{fallback}
	}
	return classes
}

// RunHTTP serves the API until the listener fails
func (s *Server) RunHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	return http.ListenAndServe(addr, s.SetupHTTP())
}
