package privacy

// signalRule evaluates one quasi-identifier. It returns the fields behind
// the signal, or nil when the signal is absent.
type signalRule struct {
	signal Signal
	test   func(lib *Library, rec Record) []string
}

var signalRules = []signalRule{
	{signal: SignalFullName, test: namedMatch("name", (*Library).IsFullName)},
	{signal: SignalEmail, test: namedMatch("email", (*Library).IsEmail)},
	{signal: SignalAddress, test: namedMatch("address", (*Library).HasAddressComponents)},
	{signal: SignalDevice, test: devicePresent},
	{signal: SignalNameParts, test: nameParts},
}

// namedMatch fires when the named field holds a non-null value accepted by match
func namedMatch(field string, match func(*Library, string) bool) func(*Library, Record) []string {
	return func(lib *Library, rec Record) []string {
		v, ok := rec.Get(field)
		if !ok || v.IsNull() || !match(lib, v.Text()) {
			return nil
		}
		return []string{field}
	}
}

// devicePresent fires on any non-null device_id or ip_address; content is not validated.
func devicePresent(_ *Library, rec Record) []string {
	var fields []string
	for _, name := range []string{"device_id", "ip_address"} {
		if v, ok := rec.Get(name); ok && !v.IsNull() {
			fields = append(fields, name)
		}
	}
	return fields
}

func nameParts(_ *Library, rec Record) []string {
	first, ok := rec.Get("first_name")
	if !ok || first.IsEmpty() {
		return nil
	}
	last, ok := rec.Get("last_name")
	if !ok || last.IsEmpty() {
		return nil
	}
	return []string{"first_name", "last_name"}
}

type combinatorialResult struct {
	signals []Signal
	fields  []string
}

// classifyCombinatorial evaluates every signal and collects the fields of the
// signals that fired, deduplicated and in record order.
func classifyCombinatorial(lib *Library, rec Record) combinatorialResult {
	var res combinatorialResult
	contributing := make(map[string]bool)
	for _, rule := range signalRules {
		fields := rule.test(lib, rec)
		if len(fields) == 0 {
			continue
		}
		res.signals = append(res.signals, rule.signal)
		for _, f := range fields {
			contributing[f] = true
		}
	}
	for _, f := range rec.Fields {
		if contributing[f.Name] {
			res.fields = append(res.fields, f.Name)
		}
	}
	return res
}
