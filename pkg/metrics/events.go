package metrics

// Event names emitted on the observer bus.
const (
	EventAudioIn        = "audio_in"
	EventAudioOut       = "audio_out"
	EventInboundDropped = "inbound_dropped"

	EventSTTFinal      = "stt_final"
	EventSTTEmpty      = "stt_empty"
	EventLLMFirstToken = "llm_first_token"
	EventLLMDone       = "llm_done"
	EventLLMFallback   = "llm_stream_fallback"
	EventTTSFirstAudio = "tts_first_audio"
	EventTTSDone       = "tts_done"

	EventBargeInProbe     = "barge_in_probe"
	EventBargeInCommitted = "barge_in_committed"
	EventTurnClosed       = "turn_closed"
	EventTurnPhase        = "turn_phase"
	EventLatencyEMA       = "latency_ema"
	EventProfileSelected  = "profile_selected"

	EventBreakerDenied = "breaker_denied"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventRateLimit     = "rate_limit"
)
