package privacy

// Signal is one quasi-identifier checked by the combinatorial classifier
type Signal string

const (
	SignalFullName  Signal = "full_name"
	SignalEmail     Signal = "email"
	SignalAddress   Signal = "address"
	SignalDevice    Signal = "device"
	SignalNameParts Signal = "name_parts"
)

// Source says which classifier implicated a field
type Source string

const (
	SourceStandalone    Source = "standalone"
	SourceCombinatorial Source = "combinatorial"
)

// DefaultCombinatorialThreshold is the number of co-occurring signals that
// makes a record combinatorial PII
const DefaultCombinatorialThreshold = 2

// Finding describes one masked field. It never carries the raw value.
type Finding struct {
	Field  string `json:"field"`
	Kind   Kind   `json:"kind"`
	Source Source `json:"source"`
}

// ClassificationResult is the outcome of both classifiers over one record
type ClassificationResult struct {
	IsPII               bool     `json:"is_pii"`
	IsStandalone        bool     `json:"is_standalone"`
	IsCombinatorial     bool     `json:"is_combinatorial"`
	StandaloneFields    []string `json:"standalone_fields"`
	CombinatorialFields []string `json:"combinatorial_fields"`
	Signals             []Signal `json:"signals"`
	SignalCount         int      `json:"signal_count"`
}

// ImplicatedFields returns the fields that must be masked: the standalone
// fields plus, when the combinatorial rule fired, its contributing fields.
// Each name appears once, standalone fields first.
func (c ClassificationResult) ImplicatedFields() []string {
	if !c.IsPII {
		return nil
	}
	fields := make([]string, 0, len(c.StandaloneFields)+len(c.CombinatorialFields))
	seen := make(map[string]bool, cap(fields))
	for _, f := range c.StandaloneFields {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	if c.IsCombinatorial {
		for _, f := range c.CombinatorialFields {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// Result contains the result of processing a record through the detector
type Result struct {
	Classification ClassificationResult `json:"classification"`
	Redacted       Record               `json:"redacted"`
	Findings       []Finding            `json:"findings"`
}
