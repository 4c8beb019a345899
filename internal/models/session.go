package models

// SessionStatus represents the status of a resume session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusComplete   SessionStatus = "complete"
	SessionStatusError      SessionStatus = "error"
)

// ResumeSession tracks one background resume run over an uploaded file.
type ResumeSession struct {
	ID               string              `json:"id"`
	FileID           string              `json:"fileId"`
	Config           ResumeConfig        `json:"config"`
	Status           SessionStatus       `json:"status"`
	Stage            string              `json:"stage,omitempty"`
	Progress         float64             `json:"progress"` // 0-100
	ResumePoint      *ResumePoint        `json:"resumePoint,omitempty"`
	Temperatures     *TemperatureReading `json:"temperatures,omitempty"`
	OutputFileID     string              `json:"outputFileId,omitempty"`
	OutputLines      int                 `json:"outputLines,omitempty"`
	ProcessingTimeMs int64               `json:"processingTimeMs,omitempty"`
	Warnings         []string            `json:"warnings,omitempty"`
	Errors           []SessionError      `json:"errors,omitempty"`
}

// SessionError represents an error encountered during a session.
type SessionError struct {
	Line    int    `json:"line,omitempty"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason"`
}

// NewResumeSession creates a new ResumeSession in pending status.
func NewResumeSession(id, fileID string, cfg ResumeConfig) *ResumeSession {
	return &ResumeSession{
		ID:       id,
		FileID:   fileID,
		Config:   cfg,
		Status:   SessionStatusPending,
		Progress: 0,
		Errors:   make([]SessionError, 0),
	}
}

// Done reports whether the session reached a terminal status.
func (s *ResumeSession) Done() bool {
	return s.Status == SessionStatusComplete || s.Status == SessionStatusError
}
