package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonScriptGraph      ReasonCode = "script_graph"
	ReasonScriptSchema     ReasonCode = "script_schema"
	ReasonSlotExtraction   ReasonCode = "slot_extraction"
	ReasonDirectiveInvalid ReasonCode = "directive_invalid"
	ReasonSessionClosed    ReasonCode = "session_closed"

	ReasonCompletionTimeout ReasonCode = "completion_timeout"
	ReasonCompletionError   ReasonCode = "completion_error"
	ReasonRetrievalTimeout  ReasonCode = "retrieval_timeout"
	ReasonRetrievalError    ReasonCode = "retrieval_error"
	ReasonBusinessTimeout   ReasonCode = "business_api_timeout"
	ReasonBusinessError     ReasonCode = "business_api_error"
	ReasonTranscribeTimeout ReasonCode = "transcribe_timeout"
	ReasonTranscribeError   ReasonCode = "transcribe_error"
	ReasonSynthesizeTimeout ReasonCode = "synthesize_timeout"
	ReasonSynthesizeError   ReasonCode = "synthesize_error"
)
