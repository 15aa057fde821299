package payload

import (
	"errors"
	"fmt"
	"math/rand/v2"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Mode selects the traffic pattern produced by the generator
type Mode string

const (
	ModeNormal  Mode = "normal"
	ModeFailure Mode = "failure"
)

// DefaultFailureProbability is the share of invalid payloads in failure mode
const DefaultFailureProbability = 0.7

// Field describes one input column of the serving contract
type Field struct {
	Name string
	Min  float64
	Max  float64
}

// DefaultFields returns the columns expected by the serving endpoint
func DefaultFields() []Field {
	return []Field{
		{Name: "pressure", Min: 80, Max: 140},
		{Name: "flow", Min: 2.0, Max: 6.0},
		{Name: "radius", Min: 0.2, Max: 0.45},
	}
}

// Payload is one request body in dataframe_split layout
type Payload struct {
	Columns []string
	Data    [][]float64

	// Valid is false when a required field was dropped on purpose
	Valid bool
}

type dataframeSplit struct {
	Columns []string    `json:"columns"`
	Data    [][]float64 `json:"data"`
}

type body struct {
	DataframeSplit dataframeSplit `json:"dataframe_split"`
}

// Body returns the JSON encoding sent to the endpoint
func (p Payload) Body() ([]byte, error) {
	return json.Marshal(body{DataframeSplit: dataframeSplit{Columns: p.Columns, Data: p.Data}})
}

// Generator produces request payloads
type Generator struct {
	mode   Mode
	fields []Field
	pFail  float64
	rng    *rand.Rand
}

// Option configures a Generator
type Option func(*Generator)

// WithSeed makes the generator deterministic
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithFields overrides the default columns
func WithFields(fields []Field) Option {
	return func(g *Generator) {
		g.fields = fields
	}
}

// WithFailureProbability overrides the share of invalid payloads in failure mode
func WithFailureProbability(p float64) Option {
	return func(g *Generator) {
		g.pFail = p
	}
}

// NewGenerator creates a new payload generator
func NewGenerator(mode Mode, opts ...Option) (*Generator, error) {
	g := &Generator{
		mode:   mode,
		fields: DefaultFields(),
		pFail:  DefaultFailureProbability,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(g)
	}

	switch g.mode {
	case ModeNormal, ModeFailure:
	default:
		return nil, fmt.Errorf("unknown payload mode %q", g.mode)
	}
	if len(g.fields) == 0 {
		return nil, errors.New("payload field list is empty")
	}
	if g.mode == ModeFailure && len(g.fields) < 2 {
		return nil, errors.New("failure mode needs at least two fields")
	}
	for _, f := range g.fields {
		if f.Name == "" {
			return nil, errors.New("payload field without name")
		}
		if f.Max < f.Min {
			return nil, fmt.Errorf("payload field %s: max %.3f < min %.3f", f.Name, f.Max, f.Min)
		}
	}
	if g.pFail < 0 || g.pFail > 1 {
		return nil, fmt.Errorf("failure probability %.2f outside [0,1]", g.pFail)
	}

	return g, nil
}

// Mode returns the configured traffic mode
func (g *Generator) Mode() Mode {
	return g.mode
}

// Next returns the next payload
func (g *Generator) Next() Payload {
	fields := g.fields
	valid := true

	// Failure mode omits the last required column
	if g.mode == ModeFailure && g.rng.Float64() < g.pFail {
		fields = fields[:len(fields)-1]
		valid = false
	}

	columns := make([]string, len(fields))
	row := make([]float64, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
		row[i] = f.Min + g.rng.Float64()*(f.Max-f.Min)
	}

	return Payload{
		Columns: columns,
		Data:    [][]float64{row},
		Valid:   valid,
	}
}
