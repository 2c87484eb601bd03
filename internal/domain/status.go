package domain

var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending, StatusDeadLetter, StatusCompleted},
	StatusDeadLetter: {StatusCompleted},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EnsureTransition returns a TransitionError when from -> to is not allowed.
func EnsureTransition(from, to RequestStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return TransitionError{From: from, To: to}
}

func ParseStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusDeadLetter:
		return st, nil
	}
	return "", ValidationError{Field: "status", Reason: "must be one of pending, processing, completed, failed, cancelled, dead_letter"}
}
