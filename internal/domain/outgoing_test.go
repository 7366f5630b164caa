package domain

import "testing"

func recips(statuses ...RecipientStatus) []MailRecipient {
	out := make([]MailRecipient, len(statuses))
	for i, s := range statuses {
		out[i] = MailRecipient{Email: "r@example.com", Status: s}
	}
	return out
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name string
		in   []MailRecipient
		want OutgoingStatus
	}{
		{"all sent", recips(RecipientSent, RecipientSent), OutgoingSent},
		{"some sent", recips(RecipientSent, RecipientBounced), OutgoingPartiallySent},
		{"all deferred", recips(RecipientDeferred, RecipientDeferred), OutgoingDeferred},
		{"mixed failures", recips(RecipientDeferred, RecipientBounced), OutgoingBounced},
		{"all bounced", recips(RecipientBounced), OutgoingBounced},
		{"sent with unreported", recips(RecipientSent, RecipientPending), OutgoingPartiallySent},
		{"bounced with unreported", recips(RecipientBounced, RecipientPending), OutgoingBounced},
		{"deferred with unreported", recips(RecipientDeferred, RecipientPending), OutgoingBounced},
		{"no reports yet", recips(RecipientPending, RecipientPending), OutgoingQueued},
		{"no recipients", nil, OutgoingQueued},
	}
	for _, tc := range cases {
		if got := DeriveStatus(tc.in); got != tc.want {
			t.Errorf("%s: DeriveStatus = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRecipientTransitions(t *testing.T) {
	if !RecipientPending.CanTransitionTo(RecipientDeferred) {
		t.Error("pending -> deferred should be allowed")
	}
	if !RecipientDeferred.CanTransitionTo(RecipientDeferred) {
		t.Error("deferred -> deferred should be allowed (retry bookkeeping)")
	}
	if !RecipientDeferred.CanTransitionTo(RecipientSent) {
		t.Error("deferred -> sent should be allowed")
	}
	if RecipientSent.CanTransitionTo(RecipientBounced) {
		t.Error("sent is terminal")
	}
	if RecipientBounced.CanTransitionTo(RecipientSent) {
		t.Error("bounced is terminal")
	}
}

func TestTransferPriority(t *testing.T) {
	if p := TransferPriority(true, true); p != PriorityNewsletter {
		t.Errorf("newsletter wins: got %d", p)
	}
	if p := TransferPriority(false, true); p != PriorityRootDomain {
		t.Errorf("root domain: got %d", p)
	}
	if p := TransferPriority(false, false); p != PriorityDefault {
		t.Errorf("default: got %d", p)
	}
}
