package pipeline

import "fmt"

// Thresholds are the minimum confidences at which the pipeline acts on a
// provider answer without a human. Comparisons are inclusive.
type Thresholds struct {
	AutoAttach   float64 `yaml:"auto_attach"`
	DocumentType float64 `yaml:"document_type"`
	VocalType    float64 `yaml:"vocal_type"`
	Insights     float64 `yaml:"insights"`
	// PropertyParams gates the merge of initial-visit parameters into a
	// property's details.
	PropertyParams float64 `yaml:"property_params"`
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoAttach:     0.75,
		DocumentType:   0.70,
		VocalType:      0.60,
		Insights:       0.60,
		PropertyParams: 0.60,
	}
}

// Validate checks every threshold lies in [0,1].
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"auto_attach":     t.AutoAttach,
		"document_type":   t.DocumentType,
		"vocal_type":      t.VocalType,
		"insights":        t.Insights,
		"property_params": t.PropertyParams,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s must be within [0,1], got %v", name, v)
		}
	}
	return nil
}
