package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Candidate is a pull request inferred from a merge commit message.
type Candidate struct {
	Number int64
	Title  string
	Ticket string // set when the number came from a ticket token
}

// Matcher is one pull request detection strategy.
type Matcher interface {
	Name() string
	Match(message string) (Candidate, bool)
}

// regexMatcher matches a pattern whose first numeric group is the pull request number.
type regexMatcher struct {
	name   string
	re     *regexp.Regexp
	numIdx int // capture group holding the digits
	tagIdx int // capture group holding the ticket, 0 for none
}

var _ Matcher = &regexMatcher{} // Compile-time check

func (m *regexMatcher) Name() string { return m.name }

func (m *regexMatcher) Match(message string) (Candidate, bool) {
	groups := m.re.FindStringSubmatch(message)
	if groups == nil {
		return Candidate{}, false
	}
	n, err := strconv.ParseInt(groups[m.numIdx], 10, 64)
	if err != nil || n <= 0 {
		return Candidate{}, false
	}
	c := Candidate{Number: n, Title: firstLine(message)}
	if m.tagIdx > 0 {
		c.Ticket = groups[m.tagIdx]
		c.Title = "[" + c.Ticket + "] " + c.Title
	}
	return c, true
}

// PullRequestNumberMatcher finds "pull request #N".
func PullRequestNumberMatcher() Matcher {
	return &regexMatcher{
		name:   "pull-request-number",
		re:     regexp.MustCompile(`(?i)\bpull request #(\d+)`),
		numIdx: 1,
	}
}

// TicketBranchMatcher finds a ticket such as CG-25002 after "into feature/", "from bugfix/"
// or git's default "branch 'feature/".
// The ticket's digits become the number and the ticket prefixes the title.
func TicketBranchMatcher() Matcher {
	return &regexMatcher{
		name:   "ticket-branch",
		re:     regexp.MustCompile(`\b(?i:into|from|branch)\s+'?(?i:feature|bugfix|hotfix)/([A-Z][A-Z0-9]+-(\d+))`),
		numIdx: 2,
		tagIdx: 1,
	}
}

// NumericBranchMatcher finds a bare number directly after a feature/bugfix/hotfix branch prefix.
func NumericBranchMatcher() Matcher {
	return &regexMatcher{
		name:   "numeric-branch",
		re:     regexp.MustCompile(`(?i)\b(?:feature|bugfix|hotfix)/(\d+)\b`),
		numIdx: 1,
	}
}

// DefaultMatchers returns the detection cascade in priority order.
func DefaultMatchers() []Matcher {
	return []Matcher{PullRequestNumberMatcher(), TicketBranchMatcher(), NumericBranchMatcher()}
}

// Detect tries matchers in order and returns the first candidate with the matcher's name.
// Messages no matcher understands yield no candidate.
func Detect(matchers []Matcher, message string) (Candidate, string, bool) {
	for _, m := range matchers {
		if c, ok := m.Match(message); ok {
			return c, m.Name(), true
		}
	}
	return Candidate{}, "", false
}

var (
	fromToPattern      = regexp.MustCompile(`\bfrom\s+'?([^\s']+)'?\s+(?:to|into)\s+'?([^\s']+?)'?(?:\s|$)`)
	mergeBranchPattern = regexp.MustCompile(`^Merge (?:remote-tracking )?branch '([^']+)'(?:\s+of\s+\S+)?(?:\s+into\s+'?([^\s']+?)'?)?(?:\s|$)`)
	fromPattern        = regexp.MustCompile(`\bfrom\s+'?([^\s']+?)'?(?:\s|$)`)
	intoPattern        = regexp.MustCompile(`\binto\s+'?([^\s']+?)'?(?:\s|$)`)
)

// parseBranches reads source and target branch names from a merge subject line.
func parseBranches(message string) (source, target string) {
	subject := firstLine(message)
	if m := fromToPattern.FindStringSubmatch(subject); m != nil {
		return m[1], m[2]
	}
	if m := mergeBranchPattern.FindStringSubmatch(subject); m != nil {
		return m[1], m[2]
	}
	if m := fromPattern.FindStringSubmatch(subject); m != nil {
		source = m[1]
	}
	if m := intoPattern.FindStringSubmatch(subject); m != nil {
		target = m[1]
	}
	return source, target
}

func firstLine(message string) string {
	message = strings.TrimSpace(message)
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return strings.TrimSpace(message[:i])
	}
	return message
}

// restOfMessage drops the subject line.
func restOfMessage(message string) string {
	message = strings.TrimSpace(message)
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return strings.TrimSpace(message[i+1:])
	}
	return ""
}
