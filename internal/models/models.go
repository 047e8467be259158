package models

import "time"

// SessionStatus tracks a rename session through its lifecycle:
// uploaded -> analyzing -> analyzed -> renaming -> completed, with error
// reachable from any state on an unrecoverable fault.
type SessionStatus string

const (
	SessionUploaded  SessionStatus = "uploaded"
	SessionAnalyzing SessionStatus = "analyzing"
	SessionAnalyzed  SessionStatus = "analyzed"
	SessionRenaming  SessionStatus = "renaming"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// ImageStatus is the per-image analysis state, independent of sibling images.
type ImageStatus string

const (
	ImagePending   ImageStatus = "pending"
	ImageAnalyzing ImageStatus = "analyzing"
	ImageCompleted ImageStatus = "completed"
	ImageError     ImageStatus = "error"
)

// RenameSession represents one upload batch moving through analyze/rename/download.
type RenameSession struct {
	ID         string         `json:"id"`
	Status     SessionStatus  `json:"status"`
	Images     []*ImageRecord `json:"images"`
	CreatedAt  time.Time      `json:"created_at"`
	LastActive time.Time      `json:"last_active"`
}

// ImageRecord represents one uploaded image within a session. Images keeps
// upload order; collision suffixes during rename rely on that order.
type ImageRecord struct {
	ID            string      `json:"id"`
	OriginalName  string      `json:"original_name"`
	ContentType   string      `json:"content_type"`
	Size          int64       `json:"size"`
	ImageWidth    int         `json:"image_width"`
	ImageHeight   int         `json:"image_height"`
	Status        ImageStatus `json:"status"`
	SuggestedName string      `json:"suggested_name,omitempty"`
	FinalName     string      `json:"final_name,omitempty"`
	Error         string      `json:"error,omitempty"`

	// StorageRef is the image store reference for the raw bytes. The session
	// never holds a second copy of the data.
	StorageRef string `json:"-"`
}
