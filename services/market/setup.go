package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of a setup or position.
type Side int

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

// Grade is the quality classification of a setup. The zero value means the
// setup was never classified; order placement treats that as a hard defect.
type Grade int

const (
	GradeNone Grade = iota
	GradeC
	GradeB
	GradeA
	GradeAPlus
)

var gradeNames = map[Grade]string{
	GradeC:     "C",
	GradeB:     "B",
	GradeA:     "A",
	GradeAPlus: "A+",
}

func (g Grade) String() string {
	if s, ok := gradeNames[g]; ok {
		return s
	}
	return "unclassified"
}

// ParseGrade converts a grade string like "A+" back into a Grade.
func ParseGrade(s string) (Grade, error) {
	for g, name := range gradeNames {
		if name == s {
			return g, nil
		}
	}
	return GradeNone, fmt.Errorf("unknown grade %q", s)
}

// TradeType classifies the intended holding horizon. Scalps are subject to
// the time-stop; swings are not and outrank scalps in tie-breaks.
type TradeType int

const (
	TradeTypeScalp TradeType = iota
	TradeTypeSwing
)

func (t TradeType) String() string {
	if t == TradeTypeSwing {
		return "swing"
	}
	return "scalp"
}

// Setup is a candidate trade proposed by a strategy for one symbol on one
// replay step. It is consumed within the step that produced it.
type Setup struct {
	Symbol          string
	Strategy        string
	Timestamp       int64
	Side            Side
	Entry           decimal.Decimal
	Stop            decimal.Decimal
	PrimaryTarget   decimal.Decimal
	SecondaryTarget decimal.Decimal // zero when the setup has a single target
	Grade           Grade
	Score           float64
	RiskReward      float64
	TradeType       TradeType
	Signals         []string // names of the supporting signals
}

// RiskDistance returns the absolute entry-to-stop distance.
func (s Setup) RiskDistance() decimal.Decimal {
	return s.Entry.Sub(s.Stop).Abs()
}

// ConfluenceCount returns the number of supporting signals.
func (s Setup) ConfluenceCount() int {
	return len(s.Signals)
}

// HasSecondaryTarget reports whether a runner target is set.
func (s Setup) HasSecondaryTarget() bool {
	return !s.SecondaryTarget.IsZero()
}
