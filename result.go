package agentdeploy

// Operation names one of the remote operations.
type Operation string

const (
	OpCreate Operation = "create"
	OpTest   Operation = "test"
	OpDelete Operation = "delete"
)

// Verb is used in diagnostics, e.g. "creating".
func (o Operation) Verb() string {
	switch o {
	case OpCreate:
		return "creating"
	case OpTest:
		return "testing"
	case OpDelete:
		return "deleting"
	}
	return string(o)
}

// Result is the outcome of Create, Test or Delete. None of them return a
// bare error or panic; failures are carried in Err.
type Result struct {
	Operation    Operation
	ResourceName string
	Err          error
}

func (r Result) OK() bool {
	return r.Err == nil
}
