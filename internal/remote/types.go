package remote

// StatusInitiated is the only /run status that means the step started.
const StatusInitiated = "initiated"

// RunResponse is the body of POST /run/{stepKey}.
type RunResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Initiated reports whether the pipeline accepted the start command.
func (r RunResponse) Initiated() bool {
	return r.Status == StatusInitiated
}

// StatusResponse is the body of GET /status/{stepKey}. Nullable fields are
// pointers so "absent" and "zero" stay distinguishable.
type StatusResponse struct {
	Status                    string   `json:"status"`
	Log                       []string `json:"log"`
	ProgressCurrent           int      `json:"progress_current"`
	ProgressCurrentFractional *float64 `json:"progress_current_fractional"`
	ProgressTotal             int      `json:"progress_total"`
	ProgressText              string   `json:"progress_text"`
	ReturnCode                *int     `json:"return_code"`
	IsAnySequenceRunning      *bool    `json:"is_any_sequence_running"`
}

// CancelResponse is the body of POST /cancel/{stepKey}.
type CancelResponse struct {
	Message string `json:"message,omitempty"`
}
