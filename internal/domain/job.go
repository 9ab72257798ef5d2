package domain

// JobKind selects what a queued job asks for.
type JobKind string

const (
	JobKindExecute JobKind = "execute"
	JobKindJudge   JobKind = "judge"
)

// JobMessage is one queued job together with its broker acknowledgement
// callbacks. Exactly one of Ack or Nack must be called.
type JobMessage struct {
	ID            string
	CorrelationID string
	ReplyTo       string
	Redelivered   bool
	Body          []byte

	Ack  func() error
	Nack func(requeue bool) error
}
