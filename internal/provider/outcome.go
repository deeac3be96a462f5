package provider

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// TransportFailed is the zero value so an unset Outcome never reads as success.
	TransportFailed OutcomeKind = iota
	Success
	BusinessRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case BusinessRejected:
		return "business_rejected"
	default:
		return "transport_failed"
	}
}

// Outcome is the normalized result of a document submission, computed once
// right after the remote call. Downstream code never looks at the raw payload.
type Outcome struct {
	Kind       OutcomeKind
	DocumentID string
	Message    string
	Errors     []string
	Cause      error
	Raw        []byte
}

// Succeeded builds a Success outcome.
func Succeeded(documentID string, raw []byte) Outcome {
	return Outcome{Kind: Success, DocumentID: documentID, Raw: raw}
}

// Rejected builds a BusinessRejected outcome.
func Rejected(message string, errs []string, raw []byte) Outcome {
	return Outcome{Kind: BusinessRejected, Message: message, Errors: errs, Raw: raw}
}

// Failed builds a TransportFailed outcome.
func Failed(cause error, raw []byte) Outcome {
	if cause == nil {
		cause = ErrMalformedResponse
	}
	return Outcome{Kind: TransportFailed, Cause: cause, Raw: raw}
}

// Err converts a non-success outcome to the typed error for providerName/op.
func (o Outcome) Err(providerName, op string) error {
	switch o.Kind {
	case Success:
		return nil
	case BusinessRejected:
		return &BusinessError{Provider: providerName, Op: op, Message: o.Message, Errors: o.Errors}
	default:
		var te *TransportError
		if cause, ok := o.Cause.(*TransportError); ok {
			te = cause
		} else {
			te = NewTransportError(providerName, op, 0, o.Cause)
		}
		return te
	}
}
