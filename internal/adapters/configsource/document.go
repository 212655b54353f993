// Package configsource loads trigger documents from YAML files and pushes
// them into the trigger registry, optionally following changes on disk.
package configsource

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/okian/tripwire/internal/domain/model"
)

// document is the on-disk shape of a trigger file:
//
//	triggers:
//	  - event: my_event
//	    rules:
//	      - expression: "user.plan == 'free'"
//	        dialect: cel
//	        occurrence: {key: K, max_count: 1, interval_minutes: 0}
//	        experiment:
//	          id: E1
//	          group_id: G1
//	          variants:
//	            - {id: E1-t, type: treatment, weight: 100, content_id: P1}
type document struct {
	Triggers []triggerDoc `yaml:"triggers"`
}

type triggerDoc struct {
	Event string    `yaml:"event"`
	Rules []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Expression string         `yaml:"expression"`
	Dialect    string         `yaml:"dialect"`
	Occurrence *occurrenceDoc `yaml:"occurrence"`
	Experiment experimentDoc  `yaml:"experiment"`
}

type occurrenceDoc struct {
	Key             string `yaml:"key"`
	MaxCount        int    `yaml:"max_count"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

type experimentDoc struct {
	ID       string       `yaml:"id"`
	GroupID  string       `yaml:"group_id"`
	Variants []variantDoc `yaml:"variants"`
}

type variantDoc struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	Weight    int    `yaml:"weight"`
	ContentID string `yaml:"content_id"`
}

// Parse decodes a trigger document. Unknown fields, duplicate events, unknown
// dialects and unknown variant types are rejected. Rule semantics (weights,
// expression syntax) are checked separately by trigger.Validate.
func Parse(data []byte) (model.Triggers, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}

	triggers := make(model.Triggers, len(doc.Triggers))
	for i, td := range doc.Triggers {
		if td.Event == "" {
			return nil, fmt.Errorf("%w: trigger %d has no event", ErrDocument, i)
		}
		if _, dup := triggers[td.Event]; dup {
			return nil, fmt.Errorf("%w: duplicate trigger for event %q", ErrDocument, td.Event)
		}
		t := model.Trigger{EventName: td.Event, Rules: make([]model.AudienceRule, 0, len(td.Rules))}
		for j, rd := range td.Rules {
			rule, err := rd.rule()
			if err != nil {
				return nil, fmt.Errorf("%w: trigger %q rule %d: %w", ErrDocument, td.Event, j, err)
			}
			t.Rules = append(t.Rules, rule)
		}
		triggers[td.Event] = t
	}
	return triggers, nil
}

func (rd ruleDoc) rule() (model.AudienceRule, error) {
	dialect := model.Dialect(rd.Dialect)
	switch dialect {
	case "", model.DialectCEL, model.DialectScript:
	default:
		return model.AudienceRule{}, fmt.Errorf("unknown dialect %q", rd.Dialect)
	}

	rule := model.AudienceRule{
		Expression: model.Expression{Source: rd.Expression, Dialect: dialect},
		Experiment: model.RawExperiment{
			ID:       rd.Experiment.ID,
			GroupID:  rd.Experiment.GroupID,
			Variants: make([]model.VariantOption, 0, len(rd.Experiment.Variants)),
		},
	}
	if o := rd.Occurrence; o != nil {
		rule.Occurrence = &model.OccurrenceConstraint{
			Key:      o.Key,
			MaxCount: o.MaxCount,
			Interval: model.Minutes(o.IntervalMinutes),
		}
	}
	for _, vd := range rd.Experiment.Variants {
		typ := model.VariantType(vd.Type)
		switch typ {
		case "":
			typ = model.VariantTreatment
		case model.VariantTreatment, model.VariantHoldout:
		default:
			return model.AudienceRule{}, fmt.Errorf("variant %q: unknown type %q", vd.ID, vd.Type)
		}
		rule.Experiment.Variants = append(rule.Experiment.Variants, model.VariantOption{
			ID:            vd.ID,
			Type:          typ,
			WeightPercent: vd.Weight,
			ContentID:     vd.ContentID,
		})
	}
	return rule, nil
}
