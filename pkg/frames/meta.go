package frames

// Metadata keys carried on frames.
const (
	MetaStreamID  = "stream_id"
	MetaSessionID = "session_id"
	MetaTraceID   = "trace_id"
	MetaTurnID    = "turn_id"
	MetaSource    = "source"
	MetaReason    = "reason"
	MetaLanguage  = "language"
	MetaEncoding  = "encoding"
	MetaRemote    = "remote_addr"
)
