// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package detect

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// Check selects the comparison a rule applies to its metric.
type Check string

const (
	// CheckOutside fires when a numeric metric leaves [Min, Max].
	CheckOutside Check = "outside"
	// CheckAbove fires when a numeric metric exceeds Value.
	CheckAbove Check = "above"
	// CheckBelow fires when a numeric metric drops under Value.
	CheckBelow Check = "below"
	// CheckEquals fires when a string payload field equals Match.
	CheckEquals Check = "equals"
)

// RuleFile is the top-level shape of a detection rule YAML document.
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Rule maps one payload condition to a severity and category. Mitigation
// is optional; when set it travels into the context of any event minted
// from the rule's findings.
type Rule struct {
	ID          string             `yaml:"id"`
	Description string             `yaml:"description"`
	Metric      string             `yaml:"metric"`
	Check       Check              `yaml:"check"`
	Min         float64            `yaml:"min"`
	Max         float64            `yaml:"max"`
	Value       float64            `yaml:"value"`
	Match       string             `yaml:"match"`
	Severity    datatypes.Severity `yaml:"severity"`
	Category    datatypes.Category `yaml:"category"`
	Mitigation  string             `yaml:"mitigation"`
	Priority    int                `yaml:"priority"`
}

func (c *Check) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingCheck := Check(s)
	switch incomingCheck {
	case CheckOutside, CheckAbove, CheckBelow, CheckEquals:
		*c = incomingCheck
		return nil
	default:
		return fmt.Errorf("invalid value for Check: %q", incomingCheck)
	}
}

// Validate rejects rules the evaluator could not apply. Called by
// ParseRules after unmarshalling so a bad file never becomes an active
// rule set.
func (f *RuleFile) Validate() error {
	if len(f.Rules) == 0 {
		return fmt.Errorf("rule file contains no rules")
	}
	seen := make(map[string]struct{}, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Metric == "" {
			return fmt.Errorf("rule %q: missing metric", r.ID)
		}
		switch r.Severity {
		case datatypes.SeverityInfo, datatypes.SeverityWarning, datatypes.SeverityCritical:
		default:
			return fmt.Errorf("rule %q: invalid severity %q", r.ID, r.Severity)
		}
		if r.Category == "" {
			return fmt.Errorf("rule %q: missing category", r.ID)
		}
		switch r.Check {
		case CheckOutside:
			if r.Min >= r.Max {
				return fmt.Errorf("rule %q: outside check needs min < max", r.ID)
			}
		case CheckEquals:
			if r.Match == "" {
				return fmt.Errorf("rule %q: equals check needs match", r.ID)
			}
		}
	}
	return nil
}

// SortByPriority orders rules from highest to lowest priority so
// findings come out in a stable, most-important-first order.
func (f *RuleFile) SortByPriority() {
	sort.SliceStable(f.Rules, func(i, j int) bool {
		return f.Rules[i].Priority > f.Rules[j].Priority
	})
}

// ParseRules unmarshals, validates, and priority-sorts a rule file.
func ParseRules(data []byte) (*RuleFile, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the rule file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule file: %w", err)
	}
	file.SortByPriority()
	return &file, nil
}
