package routing

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table maps dialed numbers to weighted script choices.
//
// Example:
//
//	routes:
//	  - number: "+15550001111"
//	    scripts:
//	      - name: menu
//	        weight: 3
//	      - name: forward
//	        weight: 1
//	        params:
//	          target: "+15557770000"
//	default:
//	  - name: greeting
type Table struct {
	Routes  []Route          `yaml:"routes"`
	Default []WeightedScript `yaml:"default"`
}

type Route struct {
	Number  string           `yaml:"number"`
	Scripts []WeightedScript `yaml:"scripts"`
}

type WeightedScript struct {
	Name string `yaml:"name"`
	// Weight defaults to 1 when omitted.
	Weight int               `yaml:"weight"`
	Params map[string]string `yaml:"params"`
}

// UnmarshalYAML defaults an omitted weight to 1; an explicit 0 disables the
// choice.
func (w *WeightedScript) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Name   string            `yaml:"name"`
		Weight *int              `yaml:"weight"`
		Params map[string]string `yaml:"params"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	w.Name, w.Params, w.Weight = raw.Name, raw.Params, 1
	if raw.Weight != nil {
		w.Weight = *raw.Weight
	}
	return nil
}

// LoadTable reads a YAML route table from path.
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("routing: read table: %w", err)
	}
	return ParseTable(b)
}

func ParseTable(b []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return Table{}, fmt.Errorf("routing: parse table: %w", err)
	}
	t.normalize()
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

func (t *Table) normalize() {
	fix := func(ws []WeightedScript) {
		for i := range ws {
			ws[i].Name = strings.TrimSpace(ws[i].Name)
		}
	}
	for i := range t.Routes {
		t.Routes[i].Number = strings.TrimSpace(t.Routes[i].Number)
		fix(t.Routes[i].Scripts)
	}
	fix(t.Default)
}

// Validate aggregates every problem in the table.
func (t Table) Validate() error {
	var errs []string
	seen := map[string]bool{}
	check := func(where string, ws []WeightedScript) {
		for i, s := range ws {
			if s.Name == "" {
				errs = append(errs, fmt.Sprintf("%s script %d: name is required", where, i))
			}
			if s.Weight < 0 {
				errs = append(errs, fmt.Sprintf("%s script %d: weight must be >= 0", where, i))
			}
		}
	}
	for i, r := range t.Routes {
		where := fmt.Sprintf("route %d", i)
		if r.Number == "" {
			errs = append(errs, where+": number is required")
		} else if seen[r.Number] {
			errs = append(errs, fmt.Sprintf("%s: duplicate number %s", where, r.Number))
		}
		seen[r.Number] = true
		if len(r.Scripts) == 0 {
			errs = append(errs, where+": at least one script is required")
		}
		check(where, r.Scripts)
	}
	check("default", t.Default)
	if len(errs) == 0 {
		return nil
	}
	return errors.New("routing table errors:\n- " + strings.Join(errs, "\n- "))
}

func (t Table) lookup(number string) []WeightedScript {
	for _, r := range t.Routes {
		if r.Number == number {
			return r.Scripts
		}
	}
	return nil
}

// ScriptNames lists every script the table refers to, sorted, without duplicates.
func (t Table) ScriptNames() []string {
	seen := map[string]struct{}{}
	add := func(ws []WeightedScript) {
		for _, s := range ws {
			seen[s.Name] = struct{}{}
		}
	}
	for _, r := range t.Routes {
		add(r.Scripts)
	}
	add(t.Default)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
