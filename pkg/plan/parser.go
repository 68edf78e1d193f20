package plan

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultDetectionWindow is how far into a bullet body agent names are
// searched for, in characters.
const DefaultDetectionWindow = 25

var (
	bulletRe = regexp.MustCompile(`^\s*[-•*]\s+(.+)$`)
	boldRe   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// Parser converts bullet-formatted planner text into MPlan steps. The zero
// value is not usable; call NewParser.
type Parser struct {
	detectionWindow int
}

func NewParser() *Parser {
	return &Parser{detectionWindow: DefaultDetectionWindow}
}

// NewParserWithWindow overrides the agent-name detection window. Values < 1
// fall back to the default.
func NewParserWithWindow(window int) *Parser {
	if window < 1 {
		window = DefaultDetectionWindow
	}
	return &Parser{detectionWindow: window}
}

// Parse converts planner text into a structured plan. It never fails:
// unparseable input degrades to a plan with zero steps. Each bullet line is
// resolved independently; agent resolution never carries over between
// bullets.
func (p *Parser) Parse(planText, userID, teamID, task, facts string, team []string) *MPlan {
	mplan := NewMPlan(userID, teamID, task, facts, team)

	for _, line := range strings.Split(planText, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			// Non-bullet lines are ignored entirely, including narrative text.
			continue
		}

		agent, body := p.resolveAgent(m[1], team)
		action := collapseWhitespace(body)
		if action == "" {
			// Dropping blank-action bullets keeps the MStep invariant.
			continue
		}
		mplan.Steps = append(mplan.Steps, MStep{
			Agent:  agent,
			Action: action,
			Status: StepStatusPending,
		})
	}
	return mplan
}

// resolveAgent applies the strict priority order: bold-token match, then
// case-insensitive window scan, then the fallback agent.
func (p *Parser) resolveAgent(body string, team []string) (agent, remainder string) {
	if agent, remainder, ok := p.matchBoldToken(body, team); ok {
		return agent, remainder
	}
	if agent, remainder, ok := p.scanWindow(body, team); ok {
		return agent, remainder
	}
	return FallbackAgent, body
}

// matchBoldToken looks for a **Token** span starting inside the detection
// window whose token names a roster member.
func (p *Parser) matchBoldToken(body string, team []string) (string, string, bool) {
	for _, loc := range boldRe.FindAllStringSubmatchIndex(body, -1) {
		if utf8.RuneCountInString(body[:loc[0]]) >= p.detectionWindow {
			break
		}
		token := strings.TrimSpace(body[loc[2]:loc[3]])
		for _, member := range team {
			if strings.EqualFold(token, member) {
				remainder := body[:loc[0]] + body[loc[1]:]
				return member, remainder, true
			}
		}
	}
	return "", "", false
}

// scanWindow searches the detection window for a literal roster-member name,
// case-insensitively. When several members appear, the earliest occurrence
// wins; ties go to the longer name so full names beat embedded prefixes.
// Matching folds rune by rune on the original string, so slicing out the
// matched span never lands inside a multi-byte rune, and the window is
// counted in runes rather than bytes.
func (p *Parser) scanWindow(body string, team []string) (string, string, bool) {
	best := -1
	bestEnd := 0
	var bestMember string

	runeIdx := 0
	for offset := range body {
		if runeIdx >= p.detectionWindow {
			break
		}
		runeIdx++
		if best != -1 && offset > best {
			break
		}
		for _, member := range team {
			if member == "" {
				continue
			}
			width := foldPrefixLen(body[offset:], member)
			if width < 0 {
				continue
			}
			if bestMember == "" || len(member) > len(bestMember) {
				best = offset
				bestEnd = offset + width
				bestMember = member
			}
		}
	}
	if best == -1 {
		return "", "", false
	}

	remainder := body[:best] + body[bestEnd:]
	// Markdown emphasis markers left behind by the name removal are noise.
	remainder = strings.ReplaceAll(remainder, "*", "")
	return bestMember, remainder, true
}

// foldPrefixLen returns the byte length of the prefix of s that matches name
// under case folding, or -1 when s does not start with name.
func foldPrefixLen(s, name string) int {
	n := 0
	for _, want := range name {
		got, size := utf8.DecodeRuneInString(s[n:])
		if size == 0 {
			return -1
		}
		if got != want && unicode.ToLower(got) != unicode.ToLower(want) {
			return -1
		}
		n += size
	}
	return n
}

// collapseWhitespace trims the text and squeezes internal runs of whitespace
// to single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
