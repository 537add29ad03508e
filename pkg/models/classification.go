package models

// Complexity buckets a request's estimated difficulty.
type Complexity string

// Supported complexity levels.
const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// RequestType buckets a request's subject matter.
type RequestType string

// Supported request types.
const (
	TypeGeneral  RequestType = "general"
	TypeCode     RequestType = "code"
	TypeCreative RequestType = "creative"
	TypeAnalysis RequestType = "analysis"
	TypeChat     RequestType = "chat"
)

// Classification is the structured summary the classifier derives from the
// latest user message. It has no lifecycle beyond the request.
type Classification struct {
	Complexity      Complexity  `json:"complexity"`
	Type            RequestType `json:"type"`
	Sensitive       bool        `json:"sensitive"`
	EstimatedTokens int         `json:"estimatedTokens"`
	RequiresTools   bool        `json:"requiresTools"`
}

// MatchConditions is the conjunction of fields a Rule tests against a
// Classification and request metadata. All declared fields are ANDed.
type MatchConditions struct {
	Sensitive       *bool       `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`
	AgentID         string      `yaml:"agentId,omitempty" json:"agentId,omitempty"` // glob: * and ?
	Type            RequestType `yaml:"type,omitempty" json:"type,omitempty"`
	Complexity      Complexity  `yaml:"complexity,omitempty" json:"complexity,omitempty"`
	EstimatedTokens string      `yaml:"estimatedTokens,omitempty" json:"estimatedTokens,omitempty"` // e.g. "<500", ">=100", "=10", "10"
	Default         bool        `yaml:"default,omitempty" json:"default,omitempty"`

	// Metadata holds unknown-key extensions: context.metadata[key] must equal
	// the configured value exactly.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Rule is a priority-ordered (match -> target) routing policy entry.
type Rule struct {
	Name     string          `yaml:"name" json:"name"`
	Match    MatchConditions `yaml:"match" json:"match"`
	Target   string          `yaml:"target" json:"target"` // account id
	Fallback string          `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Priority int             `yaml:"priority" json:"priority"`

	// insertionIndex is assigned by the rule set on load/mutation and used
	// as the stable tie-break for equal priority.
	insertionIndex int
}

// InsertionIndex returns the stable tie-break ordinal assigned at load time.
func (r Rule) InsertionIndex() int { return r.insertionIndex }

// WithInsertionIndex returns a copy of the rule carrying the given ordinal.
func (r Rule) WithInsertionIndex(i int) Rule {
	r.insertionIndex = i
	return r
}
