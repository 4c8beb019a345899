// handlers_resume.go - Resume session handlers
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/print-resume/backend/internal/models"
	"github.com/print-resume/backend/internal/resume"
	"github.com/print-resume/backend/internal/storage"
)

// ResumeHandlerImpl implements the ResumeHandler interface
type ResumeHandlerImpl struct {
	store      storage.Store
	sessionMgr SessionManager
}

// NewResumeHandler creates a new resume handler
func NewResumeHandler(store storage.Store, sessionMgr SessionManager) ResumeHandler {
	return &ResumeHandlerImpl{
		store:      store,
		sessionMgr: sessionMgr,
	}
}

// HandleStartResume starts a resume session for a stored file
func (h *ResumeHandlerImpl) HandleStartResume(c echo.Context) error {
	var req startResumeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	sess, err := h.sessionMgr.StartSession(req.FileID, req.config(h.sessionMgr))
	if err != nil {
		return fromStoreError(err, "file", req.FileID)
	}

	return c.JSON(http.StatusAccepted, sess)
}

// HandleResumeStatus returns the state of a resume session
func (h *ResumeHandlerImpl) HandleResumeStatus(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleResumeProgressStream streams session progress via SSE until the
// session completes or fails.
func (h *ResumeHandlerImpl) HandleResumeProgressStream(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	id := sess.ID

	return pollSSE(c, func() (interface{}, string, bool, bool) {
		s, ok := h.sessionMgr.GetSession(id)
		if !ok {
			return nil, "", true, false
		}
		h.sessionMgr.TouchSession(id)
		key := fmt.Sprintf("%s/%s/%.1f", s.Status, s.Stage, s.Progress)
		return progressEvent(s), key, s.Done(), true
	})
}

// HandleDownload sends the resumed G-code of a completed session
func (h *ResumeHandlerImpl) HandleDownload(c echo.Context) error {
	sess, err := h.completedSession(c)
	if err != nil {
		return err
	}

	_, name, _ := h.sessionMgr.GetResult(sess.ID)
	path, err := h.store.GetFilePath(sess.OutputFileID)
	if err != nil {
		return fromStoreError(err, "output file", sess.OutputFileID)
	}
	return c.Attachment(path, name)
}

// HandleInstructions returns the operator's next steps as HTML, or as
// Markdown with ?format=markdown.
func (h *ResumeHandlerImpl) HandleInstructions(c echo.Context) error {
	sess, err := h.completedSession(c)
	if err != nil {
		return err
	}

	res, name, ok := h.sessionMgr.GetResult(sess.ID)
	if !ok {
		return NewNotFoundError("session result", sess.ID)
	}
	params := resume.HeaderParams{
		ResumeHeight: sess.Config.TargetHeight,
		LayerHeight:  sess.Config.LayerHeight,
		Temperatures: res.Temperatures,
		PauseCommand: h.sessionMgr.Defaults().PauseCommand,
	}

	if c.QueryParam("format") == "markdown" {
		md := resume.Instructions(res, params, name)
		return c.Blob(http.StatusOK, "text/markdown; charset=UTF-8", []byte(md))
	}

	html, err := resume.InstructionsHTML(res, params, name)
	if err != nil {
		return NewInternalError("failed to render instructions", err)
	}
	return c.HTML(http.StatusOK, html)
}

// HandleMacro returns the firmware macro text for resuming prints.
// ?safeX= and ?safeY= override the configured safe Z-homing position.
func (h *ResumeHandlerImpl) HandleMacro(c echo.Context) error {
	d := h.sessionMgr.Defaults()
	x, y := d.SafeHomeX, d.SafeHomeY

	for _, p := range []struct {
		name string
		dst  *float64
	}{{"safeX", &x}, {"safeY", &y}} {
		raw := c.QueryParam(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return NewValidationError(p.name)
		}
		*p.dst = v
	}

	return c.String(http.StatusOK, resume.MacroTemplate(x, y))
}

func (h *ResumeHandlerImpl) session(c echo.Context) (*models.ResumeSession, error) {
	id := c.Param("sessionId")
	if id == "" {
		return nil, NewValidationError("sessionId")
	}
	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	// Touch session to prevent cleanup while being viewed
	h.sessionMgr.TouchSession(id)
	return sess, nil
}

func (h *ResumeHandlerImpl) completedSession(c echo.Context) (*models.ResumeSession, error) {
	sess, err := h.session(c)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusComplete {
		return nil, NewConflictError(fmt.Sprintf("session %s is %s", sess.ID, sess.Status))
	}
	return sess, nil
}

func progressEvent(s *models.ResumeSession) map[string]interface{} {
	event := map[string]interface{}{
		"status":   s.Status,
		"stage":    s.Stage,
		"progress": s.Progress,
	}
	if s.ResumePoint != nil {
		event["resumePoint"] = s.ResumePoint
	}
	if s.OutputFileID != "" {
		event["outputFileId"] = s.OutputFileID
	}
	if len(s.Warnings) > 0 {
		event["warnings"] = s.Warnings
	}
	if len(s.Errors) > 0 {
		event["errors"] = s.Errors
	}
	return event
}

// Request types

type startResumeRequest struct {
	FileID      string   `json:"fileId"`
	Height      *float64 `json:"height"`
	LayerHeight *float64 `json:"layerHeight"`
	SafeHomeX   *float64 `json:"safeHomeX"`
	SafeHomeY   *float64 `json:"safeHomeY"`
	BedTemp     *float64 `json:"bedTemp"`
	HotendTemp  *float64 `json:"hotendTemp"`
}

func (r *startResumeRequest) validate() error {
	if r.FileID == "" {
		return NewValidationError("fileId")
	}
	if r.Height == nil {
		return NewValidationError("height")
	}
	return nil
}

// config completes the request with the manager's defaults.
func (r *startResumeRequest) config(m SessionManager) models.ResumeConfig {
	d := m.Defaults()
	cfg := models.ResumeConfig{
		TargetHeight:       *r.Height,
		LayerHeight:        d.LayerHeight,
		SafeHomeX:          d.SafeHomeX,
		SafeHomeY:          d.SafeHomeY,
		BedTempOverride:    r.BedTemp,
		HotendTempOverride: r.HotendTemp,
	}
	if r.LayerHeight != nil {
		cfg.LayerHeight = *r.LayerHeight
	}
	if r.SafeHomeX != nil {
		cfg.SafeHomeX = *r.SafeHomeX
	}
	if r.SafeHomeY != nil {
		cfg.SafeHomeY = *r.SafeHomeY
	}
	return cfg
}
