package web

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/errors"
	"github.com/hpungsan/compass/internal/ops"
	"github.com/hpungsan/compass/internal/scheduler"
)

// maxFormBytes bounds POST bodies.
const maxFormBytes = 4 << 10

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	sched    *scheduler.Scheduler
	renderer *Renderer
	log      *zap.Logger
}

// HandleMode handles GET /mode: the capsule for the current decision.
func (h *Handlers) HandleMode(w http.ResponseWriter, r *http.Request) {
	res, err := h.current(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderMode(w, r, res)
}

// HandleCapsule handles GET /api/capsule: the current result as JSON.
func (h *Handlers) HandleCapsule(w http.ResponseWriter, r *http.Request) {
	res, err := h.current(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, res)
}

// HandleForce handles POST /api/force: pin the mode from a form or JSON body.
func (h *Handlers) HandleForce(w http.ResponseWriter, r *http.Request) {
	name, err := modeParam(w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	mode, err := decision.ParseMode(name)
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidMode(name))
		return
	}

	res, err := h.sched.ForceMode(r.Context(), mode)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.log.Info("mode pinned from UI", zap.String("mode", mode.String()))
	h.respond(w, r, res)
}

// HandleUnpin handles POST /api/unpin.
func (h *Handlers) HandleUnpin(w http.ResponseWriter, r *http.Request) {
	h.sched.Unpin(r.Context())
	res, err := h.settle(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.respond(w, r, res)
}

// HandleEvaluate handles POST /api/evaluate: re-evaluate now.
func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	h.sched.Evaluate(scheduler.TriggerMeetingBoundaryChange)
	res, err := h.settle(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.respond(w, r, res)
}

// HandleDecisions handles GET /decisions: the audit trail.
func (h *Handlers) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListDecisions(r.Context(), h.db, ops.ListDecisionsInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "decisions", DecisionsPageData{
		PageData: PageData{
			Title:   "Decisions",
			Version: h.renderer.version,
			Nav:     "decisions",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
	})
}

// respond answers a mutating request: the capsule fragment for htmx,
// JSON when asked, otherwise a redirect back to /mode.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, res scheduler.Result) {
	if r.Header.Get("HX-Request") == "true" {
		h.renderer.renderBlock(w, http.StatusOK, "mode", "capsule", h.modeData(res))
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, res)
		return
	}
	http.Redirect(w, r, "/mode", http.StatusSeeOther)
}

func (h *Handlers) renderMode(w http.ResponseWriter, r *http.Request, res scheduler.Result) {
	h.renderer.renderPage(w, r, "mode", h.modeData(res))
}

func (h *Handlers) modeData(res scheduler.Result) ModePageData {
	refresh := 0
	if h.cfg != nil {
		refresh = int(h.cfg.EvaluationInterval() / time.Second)
	}
	return ModePageData{
		PageData: PageData{
			Title:   res.Capsule.ViewLabel,
			Version: h.renderer.version,
			Nav:     "mode",
		},
		Result:         res,
		Pin:            h.sched.CurrentPin(),
		RenderedHTML:   renderMarkdown(res.Capsule.Markdown()),
		Modes:          decision.Modes,
		RefreshSeconds: refresh,
	}
}

// current returns the published result, evaluating once if none exists yet.
func (h *Handlers) current(r *http.Request) (scheduler.Result, error) {
	if err := h.sched.Wait(r.Context()); err != nil {
		return scheduler.Result{}, errors.NewCancelled("request")
	}
	if res, ok := h.sched.Current(); ok {
		return res, nil
	}
	h.sched.Evaluate(scheduler.TriggerAppOpen)
	return h.settle(r)
}

// settle waits for in-flight evaluations and returns the current result.
func (h *Handlers) settle(r *http.Request) (scheduler.Result, error) {
	if err := h.sched.Wait(r.Context()); err != nil {
		return scheduler.Result{}, errors.NewCancelled("request")
	}
	res, ok := h.sched.Current()
	if !ok {
		return scheduler.Result{}, errors.NewInternal(fmt.Errorf("no decision was published"))
	}
	return res, nil
}

// modeParam reads "mode" from a JSON body or form.
func modeParam(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", errors.NewInvalidRequest("invalid JSON body")
		}
		return body.Mode, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", errors.NewInvalidRequest("invalid form data")
	}
	return r.FormValue("mode"), nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
