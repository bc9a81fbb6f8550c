package models

type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusPartial  Status = "PARTIAL"
	StatusSkipped  Status = "SKIPPED"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
	StatusError    Status = "ERROR"
)

// Outcome is the terminal classification of one signal.
type Outcome struct {
	Status  Status
	Message string
}

func Success(msg string) Outcome  { return Outcome{Status: StatusSuccess, Message: msg} }
func Partial(msg string) Outcome  { return Outcome{Status: StatusPartial, Message: msg} }
func Skipped(msg string) Outcome  { return Outcome{Status: StatusSkipped, Message: msg} }
func Rejected(msg string) Outcome { return Outcome{Status: StatusRejected, Message: msg} }
func Failed(msg string) Outcome   { return Outcome{Status: StatusFailed, Message: msg} }
func Errored(msg string) Outcome  { return Outcome{Status: StatusError, Message: msg} }
