package privacy

import (
	"fmt"
	"sort"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Detector classifies records and masks the fields responsible for the
// classification. It holds no mutable state and is safe for concurrent use.
type Detector struct {
	library    *Library
	masker     *Masker
	standalone []standaloneRule
	enabled    map[Kind]bool
	threshold  int
	logger     *logger.Logger
	config     config.PrivacyConfig
}

// Option customizes a Detector
type Option func(*Detector)

// WithLibrary injects a pattern library instead of building one from config
func WithLibrary(lib *Library) Option {
	return func(d *Detector) {
		d.library = lib
	}
}

// New creates a new PII detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger, opts ...Option) (*Detector, error) {
	if log == nil {
		log = logger.NewNop()
	}

	detector := &Detector{
		enabled:   make(map[Kind]bool),
		threshold: cfg.CombinatorialThreshold,
		logger:    log,
		config:    cfg,
	}
	for _, opt := range opts {
		opt(detector)
	}

	if detector.library == nil {
		handles := cfg.UPIHandles
		if len(handles) == 0 {
			handles = DefaultUPIHandles
		}
		lib, err := NewLibrary(handles)
		if err != nil {
			return nil, fmt.Errorf("failed to build pattern library: %w", err)
		}
		detector.library = lib
	}

	if detector.threshold == 0 {
		detector.threshold = DefaultCombinatorialThreshold
	}
	if detector.threshold < 1 || detector.threshold > len(signalRules) {
		return nil, fmt.Errorf("combinatorial threshold must be between 1 and %d, got %d", len(signalRules), detector.threshold)
	}

	// Configure enabled detectors
	if err := detector.configureDetectors(cfg.Detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	var kinds []Kind
	for _, kind := range StandaloneKinds {
		if detector.enabled[kind] {
			kinds = append(kinds, kind)
		}
	}
	detector.standalone = standaloneRules(detector.library, kinds)
	detector.masker = NewMasker(detector.library)

	log.Info("Privacy detector initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.Strings("standalone_detectors", detector.EnabledDetectors()),
		zap.Int("combinatorial_threshold", detector.threshold),
		zap.Int("upi_handles", len(detector.library.handles)),
	)

	return detector, nil
}

// configureDetectors enables standalone kinds by name; "all" enables every kind
func (d *Detector) configureDetectors(detectors []string) error {
	if len(detectors) == 0 {
		detectors = []string{"all"}
	}

	for _, name := range detectors {
		if name == "all" {
			for _, kind := range StandaloneKinds {
				d.enabled[kind] = true
			}
			continue
		}

		found := false
		for _, kind := range StandaloneKinds {
			if string(kind) == name {
				d.enabled[kind] = true
				found = true
				break
			}
		}

		if !found {
			return fmt.Errorf("unknown detector: %s", name)
		}
	}

	return nil
}

// Classify runs the standalone and combinatorial classifiers over rec
func (d *Detector) Classify(rec Record) ClassificationResult {
	if !d.config.Enabled {
		return ClassificationResult{}
	}

	var result ClassificationResult
	for _, m := range classifyStandalone(d.standalone, rec) {
		result.StandaloneFields = append(result.StandaloneFields, m.field)
	}
	result.IsStandalone = len(result.StandaloneFields) > 0

	combo := classifyCombinatorial(d.library, rec)
	result.Signals = combo.signals
	result.SignalCount = len(combo.signals)
	result.CombinatorialFields = combo.fields
	result.IsCombinatorial = result.SignalCount >= d.threshold

	result.IsPII = result.IsStandalone || result.IsCombinatorial
	return result
}

// Process classifies rec and returns a redacted copy together with one
// finding per masked field. A record that is not PII is returned unchanged.
func (d *Detector) Process(rec Record) Result {
	classification := d.Classify(rec)
	redacted := rec.Clone()

	if !classification.IsPII {
		return Result{Classification: classification, Redacted: redacted}
	}

	standalone := make(map[string]bool, len(classification.StandaloneFields))
	for _, f := range classification.StandaloneFields {
		standalone[f] = true
	}

	var findings []Finding
	for _, name := range classification.ImplicatedFields() {
		i := redacted.index(name)
		if i < 0 {
			continue
		}
		value := redacted.Fields[i].Value
		if value.IsNull() {
			continue
		}

		masked, kind := d.masker.MaskText(name, value.Text())
		redacted.Fields[i].Value = String(masked)

		source := SourceCombinatorial
		if standalone[name] {
			source = SourceStandalone
		}
		findings = append(findings, Finding{Field: name, Kind: kind, Source: source})
	}

	if d.logger.Core().Enabled(zap.DebugLevel) {
		d.logger.Debug("PII detected and masked",
			zap.Strings("standalone_fields", classification.StandaloneFields),
			zap.Strings("combinatorial_fields", classification.CombinatorialFields),
			zap.Int("signal_count", classification.SignalCount),
			zap.Int("masked_fields", len(findings)),
		)
	}

	return Result{Classification: classification, Redacted: redacted, Findings: findings}
}

// ProcessRecord returns whether rec is PII and its redacted copy
func (d *Detector) ProcessRecord(rec Record) (bool, Record) {
	res := d.Process(rec)
	return res.Classification.IsPII, res.Redacted
}

// Library returns the pattern library used by the detector
func (d *Detector) Library() *Library {
	return d.library
}

// Masker returns the masking engine used by the detector
func (d *Detector) Masker() *Masker {
	return d.masker
}

// Threshold returns the number of signals that makes a record combinatorial PII
func (d *Detector) Threshold() int {
	return d.threshold
}

// Enabled reports whether detection is switched on
func (d *Detector) Enabled() bool {
	return d.config.Enabled
}

// EnabledDetectors returns the names of the active standalone detectors, sorted
func (d *Detector) EnabledDetectors() []string {
	var enabled []string
	for kind, isEnabled := range d.enabled {
		if isEnabled {
			enabled = append(enabled, string(kind))
		}
	}
	sort.Strings(enabled)
	return enabled
}
