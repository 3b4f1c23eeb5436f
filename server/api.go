package server

import (
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/julienschmidt/httprouter"

	"github.com/coplescan/coplescan/pkg/analysis"
	"github.com/coplescan/coplescan/pkg/nn"
	"github.com/coplescan/coplescan/pkg/www"
	"github.com/coplescan/coplescan/server/configdb"
)

const maxImageBodyBytes = 64 * 1024 * 1024
const maxConfigBodyBytes = 1024 * 1024

func (s *Server) SetupHTTP() http.Handler {
	router := httprouter.New()

	www.Handle(s.Log, router, "GET", "/api/ping", s.httpPing)
	www.Handle(s.Log, router, "GET", "/api/config", s.httpConfigGet)
	www.Handle(s.Log, router, "POST", "/api/config", s.httpConfigSet)
	www.Handle(s.Log, router, "GET", "/api/profiles", s.httpProfiles)
	www.Handle(s.Log, router, "POST", "/api/analyze", s.httpAnalyze)
	www.Handle(s.Log, router, "GET", "/api/results", s.httpResults)
	www.Handle(s.Log, router, "GET", "/api/results/:id", s.httpResult)
	www.Handle(s.Log, router, "GET", "/api/stats", s.httpStats)

	return router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendText(w, "coplescan")
}

func (s *Server) httpConfigGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg, err := s.ConfigDB.GetConfig()
	www.Check(err)
	www.SendJSON(w, &cfg)
}

func (s *Server) httpConfigSet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := configdb.InspectionConfig{}
	www.ReadJSON(w, r, &cfg, maxConfigBodyBytes)
	www.CheckClient(s.ConfigDB.SetConfig(cfg))

	// The pipeline picks up the new config immediately
	saved, err := s.ConfigDB.GetConfig()
	www.Check(err)
	s.pipelineLock.Lock()
	defer s.pipelineLock.Unlock()
	www.Check(s.buildPipeline(saved))
	www.SendOK(w)
}

func (s *Server) httpProfiles(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, []nn.RobustnessProfile{
		nn.ProfileOriginal,
		nn.ProfileModerate,
		nn.ProfilePermissive,
		nn.ProfileUltraPermissive,
	})
}

// httpAnalyze runs the full pipeline on the posted image and returns the
// result. By default the result is also persisted; pass save=0 to skip that
// (eg while aiming the camera).
func (s *Server) httpAnalyze(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if r.Body == nil {
		www.PanicBadRequestf("Request body must be an image")
	}
	defer r.Body.Close()
	img, err := imaging.Decode(http.MaxBytesReader(w, r.Body, maxImageBodyBytes))
	if err != nil {
		www.PanicBadRequestf("Failed to decode image: %v", err)
	}

	s.pipelineLock.Lock()
	frame, err := s.analyzer.AnalyzeFrame(img)
	s.pipelineLock.Unlock()
	www.Check(err)

	type analyzeResponse struct {
		ID     int64                 `json:"id,omitempty"`
		Result *analysis.FrameResult `json:"result"`
	}
	resp := analyzeResponse{Result: frame}
	if www.QueryValue(r, "save") != "0" {
		cfg, err := s.ConfigDB.GetConfig()
		www.Check(err)
		id, err := s.ResultDB.Add(cfg.StationName, frame)
		www.Check(err)
		resp.ID = id
	}
	www.SendJSON(w, &resp)
}

func (s *Server) httpResults(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit := www.QueryInt(r, "limit")
	recs, err := s.ResultDB.Recent(limit)
	www.Check(err)
	www.SendJSON(w, recs)
}

func (s *Server) httpResult(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("id"))
	if id == 0 {
		www.PanicNotFound()
	}
	rec, err := s.ResultDB.Get(id)
	if err != nil {
		www.PanicNotFound()
	}
	www.SendJSON(w, rec)
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	summary, err := s.ResultDB.Summarize()
	www.Check(err)

	s.pipelineLock.Lock()
	adaptiveStats := s.analyzer.AdaptiveStats()
	timingStats := s.analyzer.TimingStats()
	stages := s.models.EnabledStages()
	s.pipelineLock.Unlock()

	type statsResponse struct {
		Results  any      `json:"results"`
		Adaptive any      `json:"adaptive"`
		Timing   any      `json:"timing"`
		Stages   []string `json:"stages"`
	}
	www.SendJSON(w, &statsResponse{
		Results:  summary,
		Adaptive: adaptiveStats,
		Timing:   timingStats,
		Stages:   stages,
	})
}
