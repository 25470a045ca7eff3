package pipeline

// ConvertRequest asks for one staged upload to be converted to MIDI.
type ConvertRequest struct {
	Token      string            `json:"token"`
	UploadPath string            `json:"upload_path"`
	Filename   string            `json:"filename"`
	MIMEType   string            `json:"mime_type,omitempty"`
	Job        string            `json:"job"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ConvertResponse is returned when a conversion is enqueued.
type ConvertResponse struct {
	RunID     string `json:"run_id"`
	FileUUID  string `json:"file_uuid"`
	SeenCount int    `json:"seen_count"`
	StatusURL string `json:"status_url"`
}

// UploadResponse is returned by a synchronous upload and conversion.
type UploadResponse struct {
	FileUUID         string `json:"file_uuid"`
	MIDIURL          string `json:"midi_url"`
	ScoreURL         string `json:"score_url"`
	OriginalFilename string `json:"original_filename"`
	MIDIFilename     string `json:"midi_filename"`
}

// ErrorResponse carries the message shown to the uploader.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// RunStatus describes an enqueued conversion.
type RunStatus struct {
	RunID    string `json:"run_id"`
	FileUUID string `json:"file_uuid,omitempty"`
	State    string `json:"state"`
	MIDIURL  string `json:"midi_url,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Job types
const (
	JobConvert = "convert"
)

// Run states reported by RunStatus
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Output keys in a workflow result
const (
	OutputToken        = "token"
	OutputMIDIPath     = "midi_path"
	OutputMIDIFilename = "midi_filename"
	OutputMXLPath      = "mxl_path"
	OutputSeenCount    = "seen_count"
	OutputArchiveID    = "archive_id"
)
