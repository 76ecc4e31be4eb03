// Package protocol defines the JSON wire envelopes exchanged with the
// generative-dialogue service over the live websocket.
//
// Outbound frames are one of setup, realtimeInput, or clientContent.
// Inbound frames are a tagged union discriminated by which top-level key is
// present (setupComplete / serverContent / toolCall). Sub-fields of
// serverContent are independently optional: a single frame may carry audio,
// text, transcriptions, and a turn signal all at once, and every field that
// is present is significant.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// InputSampleRateHz is the fixed outbound PCM sample rate.
	InputSampleRateHz = 16000
	// OutputSampleRateHz is the fixed inbound PCM sample rate.
	OutputSampleRateHz = 24000

	// InputMimeType tags outbound microphone audio.
	InputMimeType = "audio/pcm;rate=16000"

	audioMimePrefix = "audio/pcm"
)

// DecodeError reports an undecodable inbound frame.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Blob is base64 payload data with an explicit MIME/sample-rate tag.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// IsAudio reports whether the blob carries PCM audio.
func (b Blob) IsAudio() bool {
	return strings.HasPrefix(strings.TrimSpace(b.MimeType), audioMimePrefix)
}

// PCM decodes the blob payload back to raw PCM bytes.
func (b Blob) PCM() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, &DecodeError{Message: "decode inline audio data", Err: err}
	}
	return pcm, nil
}

// Part is one piece of model or user content.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Content is a role-tagged sequence of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerationConfig selects the response modality and voice for a session.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig configures synthesized speech output.
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

// VoiceConfig selects a voice.
type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

// PrebuiltVoiceConfig names one of the service's stock voices.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName,omitempty"`
}

// TranscriptionConfig enables transcription for one audio direction. The
// service only checks for presence, so the object is empty.
type TranscriptionConfig struct{}

// Setup is the handshake payload sent immediately after the socket opens.
type Setup struct {
	Model                    string               `json:"model"`
	GenerationConfig         GenerationConfig     `json:"generationConfig"`
	SystemInstruction        *Content             `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *TranscriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *TranscriptionConfig `json:"outputAudioTranscription,omitempty"`
}

// SetupMessage wraps Setup in its outbound envelope.
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// NewSetup builds the handshake message for a session. Voice and system
// instruction are optional; transcription is requested for both directions.
func NewSetup(model, voice, systemInstruction string) SetupMessage {
	msg := SetupMessage{
		Setup: Setup{
			Model: normalizeModel(model),
			GenerationConfig: GenerationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &TranscriptionConfig{},
			OutputAudioTranscription: &TranscriptionConfig{},
		},
	}
	if voice = strings.TrimSpace(voice); voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: &VoiceConfig{
				PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if systemInstruction = strings.TrimSpace(systemInstruction); systemInstruction != "" {
		msg.Setup.SystemInstruction = &Content{
			Parts: []Part{{Text: systemInstruction}},
		}
	}
	return msg
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" || strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// RealtimeInput streams captured media to the service.
type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks"`
}

// RealtimeInputMessage wraps RealtimeInput in its outbound envelope.
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// NewAudioChunk wraps one PCM chunk in a realtime input envelope. Chunks may
// be any length; the framing does not assume a fixed block size.
func NewAudioChunk(pcm []byte) RealtimeInputMessage {
	return RealtimeInputMessage{
		RealtimeInput: RealtimeInput{
			MediaChunks: []Blob{{
				MimeType: InputMimeType,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	}
}

// ClientContent carries discrete (non-streamed) conversation turns.
type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// ClientContentMessage wraps ClientContent in its outbound envelope.
type ClientContentMessage struct {
	ClientContent ClientContent `json:"clientContent"`
}

// NewTextTurn wraps a user text message as a completed turn.
func NewTextTurn(text string) ClientContentMessage {
	return ClientContentMessage{
		ClientContent: ClientContent{
			Turns: []Content{{
				Role:  "user",
				Parts: []Part{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
}

// SetupComplete acknowledges the handshake.
type SetupComplete struct{}

// Transcription is a partial transcript fragment for the in-progress turn.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// ServerContent multiplexes everything the model streams back mid-turn.
// All fields are optional and must be checked independently.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolCall groups function calls issued in one frame.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

// ServerMessage is the inbound tagged union. Exactly one of the top-level
// fields is expected per frame, but decoding tolerates any combination.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
}

// DecodeServerMessage parses one inbound frame. Callers treat a DecodeError
// as droppable: it must never tear down the connection.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Message: "decode server message", Err: err}
	}
	if msg.SetupComplete == nil && msg.ServerContent == nil && msg.ToolCall == nil {
		return nil, &DecodeError{Message: "server message has no recognized payload"}
	}
	return &msg, nil
}
