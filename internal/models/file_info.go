package models

import "time"

// FileInfo represents metadata about a stored G-code file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"`           // "uploaded", "generated"
	SourceID   string    `json:"sourceId,omitempty"` // original file of a generated resume file
}

// LayerIndex is the scan result of a file, as served by the layer endpoints.
type LayerIndex struct {
	FileID  string         `json:"fileId" msgpack:"fileId"`
	Lines   int            `json:"lines" msgpack:"lines"`
	Markers []LayerMarker  `json:"markers" msgpack:"markers"`
	Motion  []MotionZValue `json:"motion,omitempty" msgpack:"motion,omitempty"`
}
