package privacy

// standaloneRule flags a field that is identifying on its own, either
// because of its name or because its value matches the recognizer.
type standaloneRule struct {
	kind  Kind
	field string
	match func(string) bool
}

// StandaloneKinds lists the kinds the standalone classifier can check, in evaluation order
var StandaloneKinds = []Kind{KindPhone, KindAadhar, KindPassport, KindUPI}

func standaloneRules(lib *Library, kinds []Kind) []standaloneRule {
	rules := make([]standaloneRule, 0, len(kinds))
	for _, kind := range kinds {
		match, _ := lib.Recognizer(kind)
		rules = append(rules, standaloneRule{
			kind:  kind,
			field: string(kind),
			match: match,
		})
	}
	return rules
}

type standaloneMatch struct {
	field string
	kind  Kind
}

// classifyStandalone returns every non-null field flagged by name or value.
// A field appears once; a name match takes precedence for the reported kind.
func classifyStandalone(rules []standaloneRule, rec Record) []standaloneMatch {
	var matches []standaloneMatch
	for _, f := range rec.Fields {
		if f.Value.IsNull() {
			continue
		}
		if kind, ok := matchStandalone(rules, f.Name, f.Value.Text()); ok {
			matches = append(matches, standaloneMatch{field: f.Name, kind: kind})
		}
	}
	return matches
}

func matchStandalone(rules []standaloneRule, name, text string) (Kind, bool) {
	for _, r := range rules {
		if name == r.field {
			return r.kind, true
		}
	}
	for _, r := range rules {
		if r.match(text) {
			return r.kind, true
		}
	}
	return "", false
}
