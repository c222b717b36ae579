package model

// Kind is the closed set of event kinds the aggregator understands.
type Kind int

// Recognized kinds. Anything else parses to KindIgnored.
const (
	KindIgnored Kind = iota
	KindUtteranceStarted
	KindUtteranceTranscriptUpdated
	KindUtteranceFinished
	KindAttentionStarted
	KindAttentionUpdated
	KindAttentionFinished
)

// Role describes what a kind does to the observation window.
type Role int

// Roles.
const (
	RoleNone        Role = iota
	RoleWindowStart      // opens a new window
	RoleWindowEnd        // records or overwrites the window end marker
	RoleSample           // appends a state sample
	RoleTerminal         // appends an "unknown" sample
)

var kindNames = map[Kind]string{
	KindUtteranceStarted:           "UtteranceUserActionStarted",
	KindUtteranceTranscriptUpdated: "UtteranceUserActionTranscriptUpdated",
	KindUtteranceFinished:          "UtteranceUserActionFinished",
	KindAttentionStarted:           "AttentionUserActionStarted",
	KindAttentionUpdated:           "AttentionUserActionUpdated",
	KindAttentionFinished:          "AttentionUserActionFinished",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// ParseKind maps an event name to its Kind. Matching is exact.
func ParseKind(name string) Kind {
	if k, ok := kindsByName[name]; ok {
		return k
	}
	return KindIgnored
}

// Kinds returns the recognized kinds in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindUtteranceStarted,
		KindUtteranceTranscriptUpdated,
		KindUtteranceFinished,
		KindAttentionStarted,
		KindAttentionUpdated,
		KindAttentionFinished,
	}
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "ignored"
}

// Recognized reports whether k is one of the six tracked kinds.
func (k Kind) Recognized() bool {
	return k != KindIgnored && kindNames[k] != ""
}

// TimestampKey is the argument holding the kind's meaningful timestamp.
func (k Kind) TimestampKey() string {
	switch k {
	case KindUtteranceStarted, KindAttentionStarted:
		return "action_started_at"
	case KindUtteranceTranscriptUpdated, KindAttentionUpdated:
		return "action_updated_at"
	case KindUtteranceFinished, KindAttentionFinished:
		return "action_finished_at"
	default:
		return ""
	}
}

// Role reports how the kind affects the window.
func (k Kind) Role() Role {
	switch k {
	case KindUtteranceStarted:
		return RoleWindowStart
	case KindUtteranceFinished, KindUtteranceTranscriptUpdated:
		return RoleWindowEnd
	case KindAttentionFinished:
		return RoleTerminal
	case KindAttentionStarted, KindAttentionUpdated:
		return RoleSample
	default:
		return RoleNone
	}
}
