package sterbox

import (
	"strings"

	"github.com/nerrad567/sterbox-bridge/internal/infrastructure/config"
)

// gcdMarker in a query fragment marks an integer-valued measurement.
const gcdMarker = "@gcd"

// Variable is one device value and the query fragment that requests it.
type Variable struct {
	Name  string
	Query string
}

// Integer reports whether the variable's value must be decoded as an integer.
func (v Variable) Integer() bool {
	return strings.Contains(v.Query, gcdMarker)
}

// Section is a named group of variables fetched with a single request.
//
// The order of Variables is the order in which the device answers; Query is
// the concatenation of the fragments in that same order. Sections are built
// once at startup and never modified.
type Section struct {
	Name      string
	Variables []Variable
	Query     string
}

// NewSection builds a section and its combined query string.
func NewSection(name string, variables []Variable) Section {
	vars := make([]Variable, len(variables))
	copy(vars, variables)

	var query strings.Builder
	for _, v := range vars {
		query.WriteString(v.Query)
	}

	return Section{
		Name:      name,
		Variables: vars,
		Query:     query.String(),
	}
}

// SectionsFromConfig converts the configured sections, keeping declared order.
func SectionsFromConfig(cfg config.Sections) []Section {
	sections := make([]Section, 0, len(cfg))
	for _, sc := range cfg {
		vars := make([]Variable, 0, len(sc.Variables))
		for _, vc := range sc.Variables {
			vars = append(vars, Variable{Name: vc.Name, Query: vc.Query})
		}
		sections = append(sections, NewSection(sc.Name, vars))
	}
	return sections
}

// variableNames returns the names of every variable in sections.
func variableNames(sections []Section) []string {
	var names []string
	for _, s := range sections {
		for _, v := range s.Variables {
			names = append(names, v.Name)
		}
	}
	return names
}
