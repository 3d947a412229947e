// Package manifest describes a simulated startup in YAML: the type hierarchy, priority declarations and the units to
// run. It backs the asyncinit command, which uses it to try out tier plans without writing Go.
//
// Example:
//
//	hierarchy:
//	  Postgres: [Database]
//	priorities:
//	  - type: Database
//	    priority: -1
//	units:
//	  - type: Postgres
//	    delay: 200ms
//	  - type: Web
//	    fail: "port already in use"
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mkock/asyncinit"
)

var validate = validator.New()

// Manifest is the decoded YAML document.
type Manifest struct {
	Hierarchy  map[string][]string `yaml:"hierarchy" validate:"dive,keys,required,endkeys,dive,required"`
	Priorities []Priority          `yaml:"priorities" validate:"dive"`
	Units      []Unit              `yaml:"units" validate:"required,min=1,dive"`
}

// Priority declares the priority of a type and its descendants.
type Priority struct {
	Type     string `yaml:"type" validate:"required"`
	Priority int    `yaml:"priority"`
}

// Unit describes a simulated unit: it waits for Delay, then fails with Fail unless Fail is empty.
type Unit struct {
	Type         string        `yaml:"type" validate:"required"`
	Delay        time.Duration `yaml:"delay" validate:"gte=0"`
	Fail         string        `yaml:"fail"`
	IgnoreCancel bool          `yaml:"ignore_cancel"`
}

// Parse decodes and validates a manifest. Unknown fields are rejected.
func Parse(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest: empty document")
		}
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	return &m, nil
}

// Load reads the manifest at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// TypeHierarchy returns the manifest's hierarchy.
func (m *Manifest) TypeHierarchy() asyncinit.Hierarchy {
	h := asyncinit.NewHierarchy()

	concretes := make([]string, 0, len(m.Hierarchy))
	for concrete := range m.Hierarchy {
		concretes = append(concretes, concrete)
	}
	sort.Strings(concretes)

	for _, concrete := range concretes {
		for _, ancestor := range m.Hierarchy[concrete] {
			h.Declare(asyncinit.Type(concrete), asyncinit.Type(ancestor))
		}
	}
	return h
}

// Declarations returns the manifest's priority declarations.
func (m *Manifest) Declarations() []asyncinit.Declaration {
	decls := make([]asyncinit.Declaration, len(m.Priorities))
	for i, p := range m.Priorities {
		decls[i] = asyncinit.Declaration{Type: asyncinit.Type(p.Type), Priority: p.Priority}
	}
	return decls
}

// NewUnits returns a fresh Sleeper for each described unit.
func (m *Manifest) NewUnits() []asyncinit.Unit {
	units := make([]asyncinit.Unit, len(m.Units))
	for i, u := range m.Units {
		units[i] = &Sleeper{
			Type:         asyncinit.Type(u.Type),
			Delay:        u.Delay,
			Fail:         u.Fail,
			IgnoreCancel: u.IgnoreCancel,
		}
	}
	return units
}

// Manager returns a Manager for the manifest. opts are applied after the manifest's hierarchy.
func (m *Manifest) Manager(opts ...asyncinit.Option) *asyncinit.Manager {
	opts = append([]asyncinit.Option{asyncinit.WithHierarchy(m.TypeHierarchy())}, opts...)
	return asyncinit.New(m.NewUnits(), m.Declarations(), opts...)
}

// Sleeper is a unit that waits, then succeeds or fails.
type Sleeper struct {
	Type         asyncinit.Type
	Delay        time.Duration
	Fail         string
	IgnoreCancel bool // Keep sleeping when cancelled, like a unit that doesn't cooperate.
}

// UnitType returns the Sleeper's configured type.
func (s *Sleeper) UnitType() asyncinit.Type {
	return s.Type
}

// Initialize waits for the Sleeper's delay.
func (s *Sleeper) Initialize(ctx context.Context) error {
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()

	if s.IgnoreCancel {
		<-timer.C
	} else {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.Fail != "" {
		return errors.New(s.Fail)
	}
	return nil
}
