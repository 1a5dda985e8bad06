package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	dErrors "passgate/pkg/domain-errors"
)

var idSeeds = []string{
	"",
	"   ",
	"\t\n",
	"550e8400-e29b-41d4-a716-446655440000",
	"550E8400-E29B-41D4-A716-446655440000",
	"urn:uuid:550e8400-e29b-41d4-a716-446655440000",
	"{550e8400-e29b-41d4-a716-446655440000}",
	"00000000-0000-0000-0000-000000000000",
	"pg_7f3a",
	"'; DROP TABLE passes;--",
	string([]byte{0x00, 0x01, 0x02}),
}

// FuzzParsePassID checks that an accepted pass id is canonical after one
// String and survives the text encoding used in audit change records.
func FuzzParsePassID(f *testing.F) {
	for _, s := range idSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		passID, err := ParsePassID(input)
		if err != nil {
			if !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
				t.Fatalf("rejection of %q is not invalid_input: %v", input, err)
			}
			return
		}
		if passID.IsNil() {
			t.Fatalf("accepted nil pass id from %q", input)
		}

		canonical := passID.String()
		again, err := ParsePassID(canonical)
		if err != nil || again != passID {
			t.Fatalf("canonical form %q did not round-trip: %v", canonical, err)
		}
		if canonical != strings.ToLower(canonical) {
			t.Fatalf("canonical form %q is not lower case", canonical)
		}

		text, err := passID.MarshalText()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded PassID
		if err := decoded.UnmarshalText(text); err != nil || decoded != passID {
			t.Fatalf("text round-trip changed %s: %v", passID, err)
		}
	})
}

// FuzzIDKindsAgree checks that pass, visit and audit ids share one
// acceptance rule: blank input is refused by all of them, and an accepted
// input names the same UUID whichever kind parsed it.
func FuzzIDKindsAgree(f *testing.F) {
	for _, s := range idSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		passID, errPass := ParsePassID(input)
		visitID, errVisit := ParseVisitID(input)
		auditID, errAudit := ParseAuditID(input)

		if strings.TrimSpace(input) == "" {
			for _, err := range []error{errPass, errVisit, errAudit} {
				if !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
					t.Fatalf("blank input %q not rejected as invalid_input: %v", input, err)
				}
			}
			return
		}

		accepted := 0
		for _, err := range []error{errPass, errVisit, errAudit} {
			if err == nil {
				accepted++
			}
		}
		if accepted != 0 && accepted != 3 {
			t.Fatalf("%q accepted by %d of 3 id kinds", input, accepted)
		}
		if accepted == 3 {
			if uuid.UUID(passID) != uuid.UUID(visitID) || uuid.UUID(visitID) != uuid.UUID(auditID) {
				t.Fatalf("%q parsed to different values across id kinds", input)
			}
		}
	})
}
