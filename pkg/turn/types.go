package turn

type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// Marker names a stage timestamp on a turn.
type Marker string

const (
	MarkSTTStart           Marker = "stt_start"
	MarkSTTEnd             Marker = "stt_end"
	MarkLLMStart           Marker = "llm_start"
	MarkLLMEnd             Marker = "llm_end"
	MarkTTSStart           Marker = "tts_start"
	MarkTTSFirstAudio      Marker = "tts_first_audio"
	MarkTTSEnd             Marker = "tts_end"
	MarkInterruptRequested Marker = "interrupt_requested"
	MarkInterruptCommitted Marker = "interrupt_committed"
)

// Markers lists every marker in lifecycle order.
var Markers = []Marker{
	MarkSTTStart, MarkSTTEnd,
	MarkLLMStart, MarkLLMEnd,
	MarkTTSStart, MarkTTSFirstAudio, MarkTTSEnd,
	MarkInterruptRequested, MarkInterruptCommitted,
}

type durationPair struct {
	name       string
	start, end Marker
}

var durationPairs = []durationPair{
	{"stt_s", MarkSTTStart, MarkSTTEnd},
	{"llm_s", MarkLLMStart, MarkLLMEnd},
	{"tts_s", MarkTTSStart, MarkTTSEnd},
	{"first_audio_s", MarkTTSStart, MarkTTSFirstAudio},
	{"stt_to_first_audio_s", MarkSTTEnd, MarkTTSFirstAudio},
	{"llm_to_first_audio_s", MarkLLMStart, MarkTTSFirstAudio},
	{"barge_in_commit_s", MarkInterruptRequested, MarkInterruptCommitted},
	{"turn_s", MarkSTTStart, MarkTTSEnd},
}

// Record field keys set by the pipeline.
const (
	FieldUserText         = "user_text_preview"
	FieldAssistantText    = "assistant_text_preview"
	FieldInterruptText    = "interrupt_text_preview"
	FieldSTTText          = "stt_text"
	FieldLLMMode          = "llm_mode"
	FieldLLMFirstToken    = "llm_first_token_s"
	FieldLLMTotal         = "llm_total_s"
	FieldLLMError         = "llm_error"
	FieldTTSError         = "tts_error"
	FieldTTSInterrupted   = "tts_interrupted"
	FieldProfile          = "profile"
	FieldProfileBase      = "profile_base"
	FieldProfileForced    = "profile_forced"
	FieldProfileReason    = "profile_reason"
	FieldLatencyEMA       = "latency_ema_s"
	FieldSuperseded       = "superseded"
	FieldInterruptRMS     = "interrupt_rms"
	FieldInterruptSpeechS = "interrupt_speech_s"
)

// Preview lengths, in runes.
const (
	UserPreviewLen      = 200
	AssistantPreviewLen = 300
	InterruptPreviewLen = 120
)
