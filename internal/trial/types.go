package trial

import "fmt"

// #region side

// Side is a response or stimulus side.
type Side int

const (
	Left  Side = 0
	Right Side = 1
)

// Other returns the opposite side.
func (s Side) Other() Side { return 1 - s }

func (s Side) String() string {
	switch s {
	case Left:
		return "L"
	case Right:
		return "R"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// #endregion side

// #region outcome

// Outcome codes are persisted with every trial and must keep their values.
type Outcome int

const (
	Incorrect Outcome = 0
	Correct   Outcome = 1
	Early     Outcome = 2
	Null      Outcome = 3
	Killed    Outcome = 4
)

// Decisive reports whether the outcome counts toward performance criteria.
func (o Outcome) Decisive() bool { return o == Correct || o == Incorrect }

func (o Outcome) String() string {
	switch o {
	case Incorrect:
		return "incorrect"
	case Correct:
		return "correct"
	case Early:
		return "early"
	case Null:
		return "null"
	case Killed:
		return "killed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// #endregion outcome

// #region rule

// Rule holds the behavioral contingencies of a trial.
type Rule struct {
	Name       string `msgpack:"name" json:"name"`
	Any        bool   `msgpack:"any" json:"any"`                 // any lick counts as the correct side
	Side       bool   `msgpack:"side" json:"side"`               // response side is scored
	Phase      bool   `msgpack:"phase" json:"phase"`             // licks during stimulus or delay end the trial early
	Fault      bool   `msgpack:"fault" json:"fault"`             // incorrect licks tolerated until a correct one
	HintDelay  bool   `msgpack:"hint_delay" json:"hint_delay"`   // reward at response window start
	HintReward bool   `msgpack:"hint_reward" json:"hint_reward"` // reward near window end if no response
}

var rules = map[string]Rule{
	"passive": {Name: "passive", Any: true, HintDelay: true},
	"phase":   {Name: "phase", Any: true, Phase: true, HintDelay: true},
	"fault":   {Name: "fault", Side: true, Phase: true, Fault: true},
	"hint":    {Name: "hint", Side: true, Phase: true, HintReward: true},
	"full":    {Name: "full", Side: true, Phase: true},
}

// RuleByName returns the named rule.
func RuleByName(name string) (Rule, error) {
	r, ok := rules[name]
	if !ok {
		return Rule{}, fmt.Errorf("unknown rule %q", name)
	}
	return r, nil
}

// #endregion rule

// #region manipulation

// Manipulation codes select when the manipulation line is driven.
const (
	ManipNone      = 0
	ManipTrial     = 1
	ManipStim      = 2
	ManipIntroStim = 3
	ManipDelay     = 4
	ManipReward    = 5
)

// #endregion manipulation

// #region plan

// Event is one stimulus pulse within a trial.
type Event struct {
	Side Side    `msgpack:"side" json:"side"`
	Time float64 `msgpack:"time" json:"time"`
}

// Plan is an immutable trial description produced at trial start.
type Plan struct {
	Index        int        `json:"idx"`
	Side         Side       `json:"side"`
	Ratio        float64    `json:"ratio"` // realized lam_R/lam_L
	Rule         Rule       `json:"rule"`
	Manipulation int        `json:"manipulation"`
	Condition    int        `json:"condition"`
	Duration     float64    `json:"dur"`
	Delay        float64    `json:"delay"`
	Level        int        `json:"level"`
	Events       []Event    `json:"events"`
	Lambda       [2]float64 `json:"lam"`
}

// DeliveryTime returns the offset of event i from stimulus phase start.
// Events after the two leading boundary events are shifted by the leading pad.
func (p Plan) DeliveryTime(i int, pad [2]float64) float64 {
	t := p.Events[i].Time
	if i >= 2 {
		t += pad[0]
	}
	return t
}

// PhaseDuration is the stimulus phase length including both pads.
func (p Plan) PhaseDuration(pad [2]float64) float64 {
	return p.Duration + pad[0] + pad[1]
}

// Intended returns the number of planned events per side.
func (p Plan) Intended() [2]int {
	var n [2]int
	for _, e := range p.Events {
		n[e.Side]++
	}
	return n
}

// #endregion plan

// #region record

// Record is a finalized trial. It is written once to the trials stream.
type Record struct {
	Idx          int                   `msgpack:"idx" json:"idx"`
	Start        float64               `msgpack:"start" json:"start"`
	End          float64               `msgpack:"end" json:"end"`
	Dur          float64               `msgpack:"dur" json:"dur"`
	Ratio        float64               `msgpack:"ratio" json:"ratio"`
	NL           int                   `msgpack:"nL" json:"nL"`
	NR           int                   `msgpack:"nR" json:"nR"`
	NLIntended   int                   `msgpack:"nL_intended" json:"nL_intended"`
	NRIntended   int                   `msgpack:"nR_intended" json:"nR_intended"`
	Side         Side                  `msgpack:"side" json:"side"`
	Condition    int                   `msgpack:"condition" json:"condition"`
	Manipulation int                   `msgpack:"manipulation" json:"manipulation"`
	Outcome      Outcome               `msgpack:"outcome" json:"outcome"`
	Reward       bool                  `msgpack:"reward" json:"reward"`
	Delay        float64               `msgpack:"delay" json:"delay"`
	Rule         string                `msgpack:"rule" json:"rule"`
	Level        int                   `msgpack:"level" json:"level"`
	Phases       map[string][2]float64 `msgpack:"phases" json:"phases"`
}

// TimingRow is one planned event, written to the trials_timing stream.
type TimingRow struct {
	Trial int     `msgpack:"trial" json:"trial"`
	Side  Side    `msgpack:"side" json:"side"`
	Time  float64 `msgpack:"time" json:"time"`
}

// Stream names written by the handler.
const (
	TrialsStream = "trials"
	TimingStream = "trials_timing"
)

// #endregion record

// #region errors

// InvariantError reports a violated trial bookkeeping assertion. It is fatal
// to the session.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Op, e.Detail)
}

// #endregion errors
