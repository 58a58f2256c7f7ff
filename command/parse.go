package command

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/coord"
)

const num = `([-+]?\d+(?:\.\d+)?)`

var (
	rxMoveTo = regexp.MustCompile(`(?i)move\s+(?:arm\s+to\s+)?x\s*=\s*` + num +
		`\s*,\s*y\s*=\s*` + num +
		`\s*,\s*z\s*=\s*` + num +
		`\s*(?:(?:,|\s)\s*(?:g|gripper)\s+(open|close))?`)
	rxAngle    = regexp.MustCompile(`(?i)move\s+(base|shoulder|elbow|wrist)\s+to\s+` + num + `\s*degrees?`)
	rxJog      = regexp.MustCompile(`(?i)(?:jog|move|nudge)\s+(x|y|z)\s+by\s+` + num)
	rxGripper  = regexp.MustCompile(`(?i)(open|close)\s+gripper`)
	rxGreeting = regexp.MustCompile(`(?i)\b(?:hi|hello|hey|good morning|good afternoon|good evening)\b`)
)

// rule is one entry of the precedence table. lower is the lower-cased text.
type rule struct {
	kind  Kind
	match func(text, lower string) (Intent, bool)
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{Stop, keyword(Stop, "stop", "emergency")},
	{Home, keyword(Home, "home")},
	{Repeat, keyword(Repeat, "repeat")},
	{MoveTo, parseMoveTo},
	{SetJointAngle, parseAngle},
	{Jog, parseJog},
	{Vision, allKeywords(Vision, "frame", "see")},
	{Help, keyword(Help, "help")},
	{Greeting, func(text, _ string) (Intent, bool) {
		return Intent{Kind: Greeting}, rxGreeting.MatchString(text)
	}},
}

func keyword(k Kind, words ...string) func(string, string) (Intent, bool) {
	return func(_, lower string) (Intent, bool) {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return Intent{Kind: k}, true
			}
		}
		return Intent{}, false
	}
}

func allKeywords(k Kind, words ...string) func(string, string) (Intent, bool) {
	return func(_, lower string) (Intent, bool) {
		for _, w := range words {
			if !strings.Contains(lower, w) {
				return Intent{}, false
			}
		}
		return Intent{Kind: k}, true
	}
}

// parseNum only sees strings the patterns above accepted, so the only
// possible error is overflow, which yields ±Inf and is left for the
// solver or range check to reject.
func parseNum(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseMoveTo(text, _ string) (Intent, bool) {
	m := rxMoveTo.FindStringSubmatch(text)
	if m == nil {
		return Intent{}, false
	}
	return Intent{
		Kind:    MoveTo,
		Coord:   coord.Point{X: parseNum(m[1]), Y: parseNum(m[2]), Z: parseNum(m[3])},
		Gripper: strings.ToLower(m[4]),
	}, true
}

func parseAngle(text, _ string) (Intent, bool) {
	m := rxAngle.FindStringSubmatch(text)
	if m == nil {
		return Intent{}, false
	}
	j, err := arm.ParseJoint(strings.ToLower(m[1]))
	if err != nil {
		return Intent{}, false
	}
	return Intent{Kind: SetJointAngle, Joint: j, Degrees: parseNum(m[2])}, true
}

func parseJog(text, _ string) (Intent, bool) {
	m := rxJog.FindStringSubmatch(text)
	if m == nil {
		return Intent{}, false
	}
	a, err := coord.ParseAxis(m[1])
	if err != nil {
		return Intent{}, false
	}
	return Intent{Kind: Jog, Axis: a, Delta: parseNum(m[2])}, true
}

// Parse resolves text into exactly one Intent. Input that matches nothing
// (including empty input) yields Kind Unknown.
func Parse(text string) Intent {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	if text != "" {
		for _, r := range rules {
			in, ok := r.match(text, lower)
			if !ok {
				continue
			}
			in.Text = text
			return in
		}
	}
	return Intent{Kind: Unknown, Text: text}
}

// GripperOverride is the secondary match evaluated independently of Parse.
//
// "open gripper"/"close gripper" yield an explicit state; any other mention
// of "gripper" yields a toggle with no state. When it matches, its command
// replaces the outcome of whatever the primary intent did, including a
// gripper state the primary intent already chose.
func GripperOverride(text string) (Intent, bool) {
	text = strings.TrimSpace(text)
	if m := rxGripper.FindStringSubmatch(text); m != nil {
		return Intent{Kind: GripperToggle, Gripper: strings.ToLower(m[1]), Text: text}, true
	}
	if strings.Contains(strings.ToLower(text), "gripper") {
		return Intent{Kind: GripperToggle, Text: text}, true
	}
	return Intent{}, false
}
