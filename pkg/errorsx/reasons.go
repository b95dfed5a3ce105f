package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTTranscribe  ReasonCode = "stt_transcribe"
	ReasonSTTProbe       ReasonCode = "stt_probe"
	ReasonSTTRateLimit   ReasonCode = "stt_rate_limit"
	ReasonSTTCircuitOpen ReasonCode = "stt_circuit_open"

	ReasonTTSSynthesize  ReasonCode = "tts_synthesize"
	ReasonTTSPlayback    ReasonCode = "tts_playback"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonLLMGenerate       ReasonCode = "llm_generate"
	ReasonLLMStream         ReasonCode = "llm_stream"
	ReasonLLMStreamFallback ReasonCode = "llm_stream_fallback"
	ReasonLLMRateLimit      ReasonCode = "llm_rate_limit"

	ReasonTurnPersist ReasonCode = "turn_persist"

	ReasonTransportDecode ReasonCode = "transport_decode"
	ReasonTransportSend   ReasonCode = "transport_send"
)
