package mailparse

import (
	"fmt"
	"strings"

	"github.com/emersion/go-msgauth/authres"
)

// AuthResults summarises the Authentication-Results header verdicts.
type AuthResults struct {
	SPFPass        bool
	SPFDescription string
	DKIMPass       bool
	DMARCPass      bool
}

// AuthenticationResults parses every Authentication-Results header on
// the message. When the header is absent or unparseable all verdicts
// stay false.
func (m *Message) AuthenticationResults() AuthResults {
	var out AuthResults
	for _, v := range m.HeaderValues("Authentication-Results") {
		_, results, err := authres.Parse(v)
		if err != nil {
			continue
		}
		for _, res := range results {
			switch r := res.(type) {
			case *authres.SPFResult:
				out.SPFPass = out.SPFPass || r.Value == authres.ResultPass
				if out.SPFDescription == "" {
					out.SPFDescription = spfDescription(r)
				}
			case *authres.DKIMResult:
				out.DKIMPass = out.DKIMPass || r.Value == authres.ResultPass
			case *authres.DMARCResult:
				out.DMARCPass = out.DMARCPass || r.Value == authres.ResultPass
			}
		}
	}
	return out
}

func spfDescription(r *authres.SPFResult) string {
	who := r.From
	if who == "" {
		who = r.Helo
	}
	if who == "" {
		return string(r.Value)
	}
	return fmt.Sprintf("%s for %s", r.Value, strings.ToLower(who))
}
