package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/eval"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/session"
)

type analyzeRequest struct {
	ImageRefs   []string         `json:"image_refs"`
	AskingPrice *float64         `json:"asking_price,omitempty"`
	UserContext string           `json:"user_context,omitempty"`
	Evidence    []model.Evidence `json:"evidence,omitempty"`
}

func (a analyzeRequest) model() model.AnalysisRequest {
	return model.AnalysisRequest{
		ImageRefs:   a.ImageRefs,
		AskingPrice: a.AskingPrice,
		UserContext: a.UserContext,
		Evidence:    a.Evidence,
	}
}

// analyzeFromQuery reads a stream request from the query string:
// repeated image params, asking_price and context.
func analyzeFromQuery(r *http.Request) (analyzeRequest, error) {
	q := r.URL.Query()
	req := analyzeRequest{
		ImageRefs:   q["image"],
		UserContext: q.Get("context"),
	}
	if raw := q.Get("asking_price"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, apperr.Validation("asking_price %q is not a number", raw)
		}
		req.AskingPrice = &p
	}
	return req, nil
}

func (s *Server) createAnalysis(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.deps.Analyses.Analyze(r.Context(), body.model())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// streamAnalysis runs an analysis and streams its progress. Once the stream
// has started, failures arrive as an error event rather than a status code.
func (s *Server) streamAnalysis(w http.ResponseWriter, r *http.Request) {
	var (
		body analyzeRequest
		err  error
	)
	if r.Method == http.MethodGet {
		body, err = analyzeFromQuery(r)
	} else {
		err = decode(w, r, &body)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	sink, ok := newSSESink(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported", Kind: string(apperr.KindInternal)})
		return
	}
	if _, err := s.deps.Analyses.Stream(r.Context(), body.model(), sink); err != nil {
		zap.L().Info("stream: analysis ended with error",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
	}
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Analyses.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type startSessionRequest struct {
	OutcomeID string `json:"outcome_id"`
	Force     bool   `json:"force"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var body startSessionRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.deps.Sessions.Start(r.Context(), body.OutcomeID, session.StartOptions{Force: body.Force})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type respondRequest struct {
	NeedID  string             `json:"need_id"`
	Kind    model.EvidenceKind `json:"kind"`
	Content string             `json:"content"`
}

func (s *Server) respondSession(w http.ResponseWriter, r *http.Request) {
	var body respondRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.deps.Sessions.Respond(r.Context(), chi.URLParam(r, "id"), body.NeedID, body.Kind, body.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) reanalyzeSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Sessions.Reanalyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) abandonSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Abandon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) followUpSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.FollowUp(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type evalRequest struct {
	ItemID string `json:"item_id,omitempty"`
	Size   int    `json:"size,omitempty"`
}

// runEval runs a batch synchronously. Dropping the connection cancels the
// batch and yields a partial report.
func (s *Server) runEval(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluator == nil || len(s.deps.Corpus) == 0 {
		writeError(w, r, apperr.NotFound("evaluation is not configured"))
		return
	}
	var body evalRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	switch mode := strings.ToLower(chi.URLParam(r, "mode")); model.EvalMode(mode) {
	case model.EvalSmoke:
		size := body.Size
		if size <= 0 {
			size = s.deps.Evaluator.SmokeSize()
		}
		report, err := s.deps.Evaluator.RunSmoke(r.Context(), eval.SmokeSample(s.deps.Corpus, size))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case model.EvalFull:
		report, err := s.deps.Evaluator.RunFull(r.Context(), s.deps.Corpus)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case model.EvalSingle:
		item, ok := eval.FindItem(s.deps.Corpus, body.ItemID)
		if !ok {
			writeError(w, r, apperr.NotFound("ground-truth item %q not found", body.ItemID))
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Evaluator.RunSingle(r.Context(), item))
	default:
		writeError(w, r, apperr.Validation("unknown eval mode %q (want smoke, full or single)", mode))
	}
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, r, apperr.NotFound("report storage is not configured"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, apperr.Validation("limit %q must be a non-negative integer", raw))
			return
		}
		limit = n
	}
	reports, err := s.deps.Reports.ListReports(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []model.EvaluationReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, r, apperr.NotFound("report storage is not configured"))
		return
	}
	report, err := s.deps.Reports.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listInsights(w http.ResponseWriter, r *http.Request) {
	if s.deps.Insights == nil {
		writeError(w, r, apperr.NotFound("insight storage is not configured"))
		return
	}
	insights, err := s.deps.Insights.ListInsights(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if insights == nil {
		insights = []model.DomainInsight{}
	}
	writeJSON(w, http.StatusOK, insights)
}
