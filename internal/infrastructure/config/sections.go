package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// VariableConfig is a single device variable and the query fragment that
// requests it.
type VariableConfig struct {
	Name  string
	Query string
}

// SectionConfig is a named group of variables polled with one request.
// Variables keep the order in which they were declared in the YAML file.
type SectionConfig struct {
	Name      string
	Variables []VariableConfig
}

// Sections is the ordered list of configured sections.
//
// The device answers positionally, so the declared order of both sections
// and variables must survive decoding. A plain map would lose it, which is
// why Sections decodes the raw yaml.Node.
type Sections []SectionConfig

// UnmarshalYAML implements yaml.Unmarshaler.
//
// Expected shape:
//
//	variables:
//	  temp:
//	    t1: "q1"
//	    t2: "q2@gcd"
func (s *Sections) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: variables must be a mapping of sections", node.Line)
	}

	sections := make(Sections, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		nameNode, body := node.Content[i], node.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: section %q must be a mapping of variable to query", body.Line, nameNode.Value)
		}

		section := SectionConfig{
			Name:      nameNode.Value,
			Variables: make([]VariableConfig, 0, len(body.Content)/2),
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			varNode, queryNode := body.Content[j], body.Content[j+1]
			if queryNode.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: query for %s.%s must be a string", queryNode.Line, section.Name, varNode.Value)
			}
			section.Variables = append(section.Variables, VariableConfig{
				Name:  varNode.Value,
				Query: queryNode.Value,
			})
		}
		sections = append(sections, section)
	}

	*s = sections
	return nil
}

// VariableCount returns the number of variables across all sections.
func (s Sections) VariableCount() int {
	n := 0
	for _, sec := range s {
		n += len(sec.Variables)
	}
	return n
}

// validate checks section and variable invariants.
func (s Sections) validate() []string {
	var errs []string

	if len(s) == 0 {
		return []string{"variables must define at least one section"}
	}

	sectionNames := make(map[string]bool)
	variableOwner := make(map[string]string)

	for i, sec := range s {
		if sec.Name == "" {
			errs = append(errs, fmt.Sprintf("variables[%d] has an empty section name", i))
			continue
		}
		if sectionNames[sec.Name] {
			errs = append(errs, fmt.Sprintf("variables.%s is duplicate", sec.Name))
		}
		sectionNames[sec.Name] = true

		if len(sec.Variables) == 0 {
			errs = append(errs, fmt.Sprintf("variables.%s must have at least one variable", sec.Name))
		}

		for _, v := range sec.Variables {
			if v.Name == "" {
				errs = append(errs, fmt.Sprintf("variables.%s has an empty variable name", sec.Name))
				continue
			}
			if owner, dup := variableOwner[v.Name]; dup {
				errs = append(errs, fmt.Sprintf("variables.%s.%s duplicates a variable of section %q", sec.Name, v.Name, owner))
			} else {
				variableOwner[v.Name] = sec.Name
			}
			if v.Query == "" {
				errs = append(errs, fmt.Sprintf("variables.%s.%s query is required", sec.Name, v.Name))
			}
		}
	}

	return errs
}
