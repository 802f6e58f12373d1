package event

import "fmt"

// Payload is the domain-specific body of an event. The interface is sealed:
// only the payload types in this package implement it.
type Payload interface {
	Domain() Domain
	isPayload()
}

// Direction is the flow of a channel message.
type Direction string

// Channel message directions.
const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// PerceptionPayload carries raw user input.
type PerceptionPayload struct {
	Data     string `json:"data" cbor:"data"`
	Format   string `json:"format" cbor:"format"`
	Language string `json:"language,omitempty" cbor:"language,omitempty"`
}

// IntentPayload carries conversation understanding results.
type IntentPayload struct {
	Message    string  `json:"message" cbor:"message"`
	Intent     string  `json:"intent,omitempty" cbor:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty" cbor:"confidence,omitempty"`
	Response   string  `json:"response,omitempty" cbor:"response,omitempty"`
}

// ToolPayload describes a tool invocation.
type ToolPayload struct {
	ToolName   string         `json:"toolName" cbor:"toolName"`
	ToolInput  map[string]any `json:"toolInput" cbor:"toolInput"`
	ToolOutput map[string]any `json:"toolOutput,omitempty" cbor:"toolOutput,omitempty"`
	Error      string         `json:"error,omitempty" cbor:"error,omitempty"`
}

// KnowledgePayload describes a retrieval step.
type KnowledgePayload struct {
	Query     string `json:"query" cbor:"query"`
	Results   []any  `json:"results,omitempty" cbor:"results,omitempty"`
	Context   string `json:"context,omitempty" cbor:"context,omitempty"`
	Citations []any  `json:"citations,omitempty" cbor:"citations,omitempty"`
}

// AvatarPayload drives avatar rendering.
type AvatarPayload struct {
	AnimationType string    `json:"animationType" cbor:"animationType"`
	AudioData     []byte    `json:"audioData,omitempty" cbor:"audioData,omitempty"`
	VisemeData    []float64 `json:"visemeData,omitempty" cbor:"visemeData,omitempty"`
}

// CompliancePayload records a compliance action.
type CompliancePayload struct {
	Action         string         `json:"action" cbor:"action"`
	DisclosureType string         `json:"disclosureType,omitempty" cbor:"disclosureType,omitempty"`
	PIIType        string         `json:"piiType,omitempty" cbor:"piiType,omitempty"`
	Details        map[string]any `json:"details,omitempty" cbor:"details,omitempty"`
}

// ChannelPayload describes channel traffic and session lifecycle.
type ChannelPayload struct {
	Channel      string    `json:"channel" cbor:"channel"`
	ChannelID    string    `json:"channelId" cbor:"channelId"`
	Message      string    `json:"message,omitempty" cbor:"message,omitempty"`
	Direction    Direction `json:"direction,omitempty" cbor:"direction,omitempty"`
	SwitchedFrom string    `json:"switchedFrom,omitempty" cbor:"switchedFrom,omitempty"`
}

func (PerceptionPayload) Domain() Domain { return DomainPerception }
func (IntentPayload) Domain() Domain     { return DomainIntent }
func (ToolPayload) Domain() Domain       { return DomainTool }
func (KnowledgePayload) Domain() Domain  { return DomainKnowledge }
func (AvatarPayload) Domain() Domain     { return DomainAvatar }
func (CompliancePayload) Domain() Domain { return DomainCompliance }
func (ChannelPayload) Domain() Domain    { return DomainChannel }

func (PerceptionPayload) isPayload() {}
func (IntentPayload) isPayload()     {}
func (ToolPayload) isPayload()       {}
func (KnowledgePayload) isPayload()  {}
func (AvatarPayload) isPayload()     {}
func (CompliancePayload) isPayload() {}
func (ChannelPayload) isPayload()    {}

// decodePayload decodes raw into the payload type owned by d.
func decodePayload(d Domain, raw []byte, unmarshal func([]byte, any) error) (Payload, error) {
	switch d {
	case DomainPerception:
		return decodeAs[PerceptionPayload](raw, unmarshal)
	case DomainIntent:
		return decodeAs[IntentPayload](raw, unmarshal)
	case DomainTool:
		return decodeAs[ToolPayload](raw, unmarshal)
	case DomainKnowledge:
		return decodeAs[KnowledgePayload](raw, unmarshal)
	case DomainAvatar:
		return decodeAs[AvatarPayload](raw, unmarshal)
	case DomainCompliance:
		return decodeAs[CompliancePayload](raw, unmarshal)
	case DomainChannel:
		return decodeAs[ChannelPayload](raw, unmarshal)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, d)
	}
}

func decodeAs[T Payload](raw []byte, unmarshal func([]byte, any) error) (Payload, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	if err := unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.Domain(), err)
	}
	return p, nil
}
