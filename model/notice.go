package model

// Notice titles.
const (
	NoticeSuccess = "Success"
	NoticeError   = "Error"
)

// Notice is the modal message produced by a completed operation. It stays
// visible until the user dismisses it.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// SuccessNotice returns a Success notice.
func SuccessNotice(msg string) Notice {
	return Notice{Title: NoticeSuccess, Message: msg}
}

// ErrorNotice returns an Error notice.
func ErrorNotice(msg string) Notice {
	return Notice{Title: NoticeError, Message: msg}
}

// IsError reports whether the notice reports a failure.
func (n Notice) IsError() bool { return n.Title == NoticeError }

// EntryResult is the outcome of creating one pending entry.
type EntryResult struct {
	Index  int    `json:"index"`
	Entity Entity `json:"entity,omitempty"`
	Err    error  `json:"-"`
	Error  string `json:"error,omitempty"`
}

// BatchReport collects the per-entry results of a batch create.
type BatchReport struct {
	Results []EntryResult `json:"results"`
}

// Succeeded returns the number of entries the backend accepted.
func (r *BatchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed reports whether at least one entry was rejected.
func (r *BatchReport) Failed() bool {
	return r.Succeeded() != len(r.Results)
}
