package machine

// Status is the outcome class of a handled command.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusInfo    Status = "info"
)

// Glyph is the prefix shown to the operator.
func (s Status) Glyph() string {
	switch s {
	case StatusSuccess:
		return "✅"
	case StatusError:
		return "❌"
	}
	return "ℹ️"
}

// Result is the operator-facing answer to one command.
type Result struct {
	Status  Status
	Message string

	// Image is the camera frame a vision answer was based on, if any.
	Image []byte
}

func (r Result) String() string {
	return r.Status.Glyph() + " " + r.Message
}

func success(msg string) Result { return Result{Status: StatusSuccess, Message: msg} }
func failure(msg string) Result { return Result{Status: StatusError, Message: msg} }
func info(msg string) Result    { return Result{Status: StatusInfo, Message: msg} }
