package billing

import (
	"context"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// StaticPlans is a PlanSource backed by a fixed slice.
type StaticPlans []Plan

func (s StaticPlans) Load(context.Context) ([]Plan, error) {
	return slices.Clone(s), nil
}

// YAMLPlanSource reads plans from a YAML document of the form:
//
//	plans:
//	  - id: monthly
//	    name: Pro monthly
//	    price_id: price_123
//	    interval: monthly
type YAMLPlanSource struct {
	path string
	data []byte
}

// NewYAMLPlanSource reads plans from the file at path on every Load.
func NewYAMLPlanSource(path string) *YAMLPlanSource {
	return &YAMLPlanSource{path: path}
}

// NewYAMLPlanSourceFromBytes parses plans from an in-memory document.
func NewYAMLPlanSourceFromBytes(data []byte) *YAMLPlanSource {
	return &YAMLPlanSource{data: data}
}

func (s *YAMLPlanSource) Load(context.Context) ([]Plan, error) {
	data := s.data
	if data == nil {
		var err error
		data, err = os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("read plans file %q: %w", s.path, err)
		}
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	return doc.Plans, nil
}
