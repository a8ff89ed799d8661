package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/huangsam/orgpulse/schema"
)

// approvalTrailer matches "Approved-by: Name <email>" style lines; the email is optional.
var approvalTrailer = regexp.MustCompile(`(?im)^[ \t]*(?:approved[- ]by|reviewed[- ]and[- ]approved[- ]by)[ \t]*:[ \t]*([^<\r\n]+?)[ \t]*(?:<([^>\r\n]*)>)?[ \t]*$`)

// ParseApprovalTrailers returns one approval per distinct approver named in message.
// Nothing is inferred without an explicit approval statement.
func ParseApprovalTrailers(message string, at time.Time) []schema.RawApproval {
	var out []schema.RawApproval
	seen := make(map[string]bool)
	for _, m := range approvalTrailer.FindAllStringSubmatch(message, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, schema.RawApproval{
			Approver:   schema.Identity{Name: name, Email: strings.TrimSpace(m[2])},
			ApprovedAt: at,
			Kind:       schema.TrailerKind,
		})
	}
	return out
}
