package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseEnums(t *testing.T) {
	t.Parallel()

	statuses := map[string]Status{"SENT": StatusSent, " pending ": StatusPending, "failed": StatusFailed}
	for in, want := range statuses {
		if got, err := ParseStatusFromString(in); err != nil || got != want {
			t.Fatalf("ParseStatusFromString(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseStatusFromString("queued"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseStatusFromString(queued) error = %v, want ErrValidation", err)
	}

	types := map[string]NotificationType{"email": NotificationTypeEmail, " in_app ": NotificationTypeInApp, "Push": NotificationTypePush, "SMS": NotificationTypeSMS}
	for in, want := range types {
		if got, err := ParseNotificationTypeFromString(in); err != nil || got != want {
			t.Fatalf("ParseNotificationTypeFromString(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseNotificationTypeFromString("fax"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseNotificationTypeFromString(fax) error = %v, want ErrValidation", err)
	}

	if got := NotificationTypes(); len(got) != len(types) {
		t.Fatalf("NotificationTypes() = %v", got)
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[[2]Status]bool{
		{StatusPending, StatusSent}:   true,
		{StatusPending, StatusFailed}: true,
		{StatusFailed, StatusSent}:    true,
	}
	all := []Status{StatusPending, StatusSent, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	valid := func() Notification {
		return Notification{
			Type:      NotificationTypeSMS,
			Recipient: "+905551112233",
			Subject:   "Phone verification",
			Message:   "Your code is 482913.",
		}
	}

	tests := []struct {
		name    string
		edit    func(*Notification)
		wantMsg string
	}{
		{name: "valid", edit: func(*Notification) {}},
		{name: "blank recipient", edit: func(n *Notification) { n.Recipient = "  " }, wantMsg: "recipient is required"},
		{name: "blank subject", edit: func(n *Notification) { n.Subject = "" }, wantMsg: "subject is required"},
		{name: "blank message", edit: func(n *Notification) { n.Message = "\n" }, wantMsg: "message is required"},
		{name: "unknown type", edit: func(n *Notification) { n.Type = "FAX" }, wantMsg: "invalid notification type"},
		{name: "subject too long", edit: func(n *Notification) { n.Subject = strings.Repeat("s", MaxSubjectLength+1) }, wantMsg: "subject exceeds"},
		{name: "multibyte subject at limit", edit: func(n *Notification) { n.Subject = strings.Repeat("ş", MaxSubjectLength) }},
		{name: "message too long", edit: func(n *Notification) { n.Message = strings.Repeat("m", MaxMessageLength+1) }, wantMsg: "message exceeds"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n := valid()
			tc.edit(&n)
			err := n.Validate()

			if tc.wantMsg == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("Validate() error = %v, want ErrValidation containing %q", err, tc.wantMsg)
			}
		})
	}
}
