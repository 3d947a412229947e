package asyncinit

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Declaration assigns a priority to every Unit whose Type is, or derives from, Type. Lower priorities run first.
type Declaration struct {
	Type     Type
	Priority int
}

// Record is a Unit paired with its effective priority.
type Record struct {
	Unit     Unit
	Type     Type
	Priority int
}

// Tier is a group of Records sharing one priority. The Units of a Tier run concurrently.
type Tier struct {
	Priority int
	Records  []Record
}

// Types returns the Type of each Record in the Tier, in Record order.
func (t Tier) Types() []Type {
	types := make([]Type, len(t.Records))
	for i, rec := range t.Records {
		types[i] = rec.Type
	}
	return types
}

// Build resolves the effective priority of each Unit and returns the Records sorted ascending by priority. Units with
// equal priority keep their input order.
//
// A Unit without matching declarations gets priority 0, so declarations may use negative values to run before
// undeclared Units, and positive ones to run after. Build returns a *ConflictingPriorityError if the declarations
// matching a Unit disagree, and (unless built with the release tag) a *DuplicateUnitError if a Unit occurs twice.
func Build(units []Unit, decls []Declaration, h Hierarchy) ([]Record, error) {
	records := make([]Record, 0, len(units))

	for i, u := range units {
		if u == nil {
			return nil, NilUnitError(i)
		}
		typ := TypeOf(u)
		priority, err := resolvePriority(typ, decls, h)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{Unit: u, Type: typ, Priority: priority})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})

	if diagnostics {
		if err := checkDuplicates(records); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// resolvePriority returns the single distinct priority declared for typ or any of its ancestors.
func resolvePriority(typ Type, decls []Declaration, h Hierarchy) (int, error) {
	lineage := make(map[Type]bool)
	for _, t := range h.Lineage(typ) {
		lineage[t] = true
	}

	var distinct []int
	seen := make(map[int]bool)
	for _, d := range decls {
		if !lineage[d.Type] || seen[d.Priority] {
			continue
		}
		seen[d.Priority] = true
		distinct = append(distinct, d.Priority)
	}

	switch len(distinct) {
	case 0:
		return 0, nil
	case 1:
		return distinct[0], nil
	default:
		sort.Ints(distinct)
		return 0, &ConflictingPriorityError{Type: typ, Priorities: distinct}
	}
}

// checkDuplicates returns a *DuplicateUnitError for the first Unit that occurs more than once. Units that can't be
// compared are skipped, including comparable types holding a slice, map or func in an interface field.
func checkDuplicates(records []Record) error {
	seen := make(map[Unit]bool, len(records))

	for _, rec := range records {
		if !reflect.ValueOf(rec.Unit).Comparable() {
			continue
		}
		if seen[rec.Unit] {
			return &DuplicateUnitError{Type: rec.Type}
		}
		seen[rec.Unit] = true
	}

	return nil
}

// Tiers groups sorted Records by priority. The returned Tiers are in ascending priority order.
func Tiers(records []Record) []Tier {
	var tiers []Tier

	for _, rec := range records {
		if n := len(tiers); n > 0 && tiers[n-1].Priority == rec.Priority {
			tiers[n-1].Records = append(tiers[n-1].Records, rec)
			continue
		}
		tiers = append(tiers, Tier{Priority: rec.Priority, Records: []Record{rec}})
	}

	return tiers
}

// Plan returns a string representation of the given Tiers. Types within a Tier are wrapped in parentheses and
// separated by a colon, Tiers are separated by a right-arrow. Types within a Tier are sorted alphabetically for reasons
// of reproducibility, and suffixed by the Tier's priority when it is non-zero.
func Plan(tiers []Tier) string {
	if len(tiers) == 0 {
		return "()"
	}

	var sequence strings.Builder

	for i, tier := range tiers {
		names := make([]string, len(tier.Records))
		for j, rec := range tier.Records {
			names[j] = string(rec.Type)
		}
		sort.Strings(names)
		if i > 0 {
			sequence.WriteString(" > ")
		}
		sequence.WriteString("(" + strings.Join(names, " : ") + ")")
		if tier.Priority != 0 {
			sequence.WriteString("@" + strconv.Itoa(tier.Priority))
		}
	}

	return sequence.String()
}
