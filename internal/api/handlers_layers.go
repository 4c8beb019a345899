// handlers_layers.go - Layer index and temperature handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/print-resume/backend/internal/gcode"
	"github.com/print-resume/backend/internal/models"
	"github.com/print-resume/backend/internal/resume"
	"github.com/print-resume/backend/internal/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// LayerHandlerImpl implements the LayerHandler interface
type LayerHandlerImpl struct {
	store    storage.Store
	index    LayerIndexStore
	sessions SessionManager
}

// NewLayerHandler creates a new layer handler
func NewLayerHandler(store storage.Store, index LayerIndexStore, sessions SessionManager) LayerHandler {
	return &LayerHandlerImpl{
		store:    store,
		index:    index,
		sessions: sessions,
	}
}

// layerPreview is where a resume at Height would start.
type layerPreview struct {
	Height      float64            `json:"height"`
	LayerHeight float64            `json:"layerHeight"`
	Threshold   float64            `json:"threshold"`
	Point       models.ResumePoint `json:"resumePoint"`
	Exceeded    bool               `json:"exceeded"`
}

type layersResponse struct {
	*models.LayerIndex
	Preview *layerPreview `json:"preview,omitempty"`
}

type temperaturesResponse struct {
	FileID string   `json:"fileId"`
	Bed    *float64 `json:"bed"`
	Hotend *float64 `json:"hotend"`
	Lines  int      `json:"scannedLines"`
}

// HandleGetLayers returns the layer markers and Z moves of a file.
// With ?height=H (and optionally ?layerHeight=L) it also reports the resume
// point a session for H would use.
func (h *LayerHandlerImpl) HandleGetLayers(c echo.Context) error {
	id := c.Param("id")
	idx, err := h.loadIndex(c, id)
	if err != nil {
		return err
	}

	resp := layersResponse{LayerIndex: idx}
	if c.QueryParam("motion") == "false" {
		trimmed := *idx
		trimmed.Motion = nil
		resp.LayerIndex = &trimmed
	}

	if raw := c.QueryParam("height"); raw != "" {
		preview, err := h.preview(c, id, idx, raw)
		if err != nil {
			return err
		}
		resp.Preview = preview
	}

	return c.JSON(http.StatusOK, resp)
}

// HandleGetLayersMsgpack returns the layer index in MessagePack format
func (h *LayerHandlerImpl) HandleGetLayersMsgpack(c echo.Context) error {
	idx, err := h.loadIndex(c, c.Param("id"))
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(idx)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleGetTemperatures returns the bed and hotend temperatures found in the
// start of a file.
func (h *LayerHandlerImpl) HandleGetTemperatures(c echo.Context) error {
	id := c.Param("id")
	path, err := h.filePath(id)
	if err != nil {
		return err
	}

	limit := h.sessions.Defaults().TemperatureLines
	if raw := c.QueryParam("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewValidationError("lines")
		}
		limit = n
	}

	doc, err := gcode.LoadDocument(path)
	if err != nil {
		return NewInternalError("failed to read file", err)
	}
	temps := gcode.ExtractTemperatures(doc, limit)

	return c.JSON(http.StatusOK, temperaturesResponse{
		FileID: id,
		Bed:    temps.Bed,
		Hotend: temps.Hotend,
		Lines:  limit,
	})
}

func (h *LayerHandlerImpl) filePath(id string) (string, error) {
	if id == "" {
		return "", NewValidationError("id")
	}
	path, err := h.store.GetFilePath(id)
	if err != nil {
		return "", fromStoreError(err, "file", id)
	}
	return path, nil
}

func (h *LayerHandlerImpl) loadIndex(c echo.Context, id string) (*models.LayerIndex, error) {
	path, err := h.filePath(id)
	if err != nil {
		return nil, err
	}
	if h.index == nil {
		return nil, NewServiceUnavailableError("layer index is not available")
	}
	idx, err := h.index.Ensure(c.Request().Context(), id, path)
	if err != nil {
		return nil, NewInternalError("failed to build layer index", err)
	}
	return idx, nil
}

func (h *LayerHandlerImpl) preview(c echo.Context, id string, idx *models.LayerIndex, rawHeight string) (*layerPreview, error) {
	height, err := strconv.ParseFloat(rawHeight, 64)
	if err != nil || height < 0 {
		return nil, NewValidationError("height")
	}
	layerHeight := h.sessions.Defaults().LayerHeight
	if raw := c.QueryParam("layerHeight"); raw != "" {
		layerHeight, err = strconv.ParseFloat(raw, 64)
		if err != nil || layerHeight <= 0 {
			return nil, NewValidationError("layerHeight")
		}
	}

	p := &layerPreview{
		Height:      height,
		LayerHeight: layerHeight,
		Threshold:   height - layerHeight,
	}

	// Fast path: a qualifying height marker is the resume point.
	marker, ok, err := h.index.FirstMarkerAtOrAbove(c.Request().Context(), id, p.Threshold)
	if err != nil {
		return nil, NewInternalError("failed to query layer index", err)
	}
	if ok {
		p.Point = models.ResumePoint{LineIndex: marker.LineIndex, Strategy: models.StrategyMarker, Height: marker.Height}
		return p, nil
	}

	// Only the Z-move fallback reads the lines around a move.
	doc := gcode.NewDocument(nil)
	if len(idx.Markers) == 0 && len(idx.Motion) > 0 {
		path, err := h.filePath(id)
		if err != nil {
			return nil, err
		}
		if doc, err = gcode.LoadDocument(path); err != nil {
			return nil, NewInternalError("failed to read file", err)
		}
	}
	p.Point = resume.ResolveScanned(doc, idx.Markers, idx.Motion, p.Threshold)
	p.Exceeded = p.Point.Exceeded
	return p, nil
}
