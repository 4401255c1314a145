package auth

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewResolvesCaseInsensitively(t *testing.T) {
	for _, name := range []string{"plain", "Plain", " PLAIN "} {
		mech, err := New(name, Credentials{})
		if err != nil {
			t.Fatalf("expected %q to resolve: %v", name, err)
		}
		if mech.Name() != "PLAIN" {
			t.Fatalf("unexpected mechanism name: %q", mech.Name())
		}
	}
}

func TestNewUnknownMechanism(t *testing.T) {
	_, err := New("SCRAM-SHA-256", Credentials{})
	if !errors.Is(err, ErrUnknownMechanism) {
		t.Fatalf("expected ErrUnknownMechanism, got %v", err)
	}
}

func TestKnownIsSorted(t *testing.T) {
	want := []string{"CRAM-MD5", "LOGIN", "PLAIN"}
	if got := Known(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected mechanism list: %v", got)
	}
}

func TestPlainInitialResponse(t *testing.T) {
	mech, err := New("PLAIN", Credentials{Username: "user", Password: "secret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	initial, err := mech.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if string(initial) != "\x00user\x00secret" {
		t.Fatalf("unexpected initial response: %q", initial)
	}

	if _, err := mech.Next(nil); err == nil {
		t.Fatalf("PLAIN must reject unexpected challenges")
	}
}

func TestLoginSteps(t *testing.T) {
	mech, err := New("LOGIN", Credentials{Username: "user", Password: "secret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if initial, err := mech.Start(); err != nil || initial != nil {
		t.Fatalf("LOGIN must not send an initial response: %v %q", err, initial)
	}

	resp, err := mech.Next([]byte("Username:"))
	if err != nil || string(resp) != "user" {
		t.Fatalf("unexpected username step: %q %v", resp, err)
	}
	resp, err = mech.Next([]byte("Password:"))
	if err != nil || string(resp) != "secret" {
		t.Fatalf("unexpected password step: %q %v", resp, err)
	}
	if _, err := mech.Next(nil); err == nil {
		t.Fatalf("LOGIN must reject a third challenge")
	}
}

func TestCramMD5KnownVector(t *testing.T) {
	// RFC 2195 section 2 example.
	mech, err := New("CRAM-MD5", Credentials{Username: "tim", Password: "tanstaaftanstaaf"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := mech.Next([]byte("<1896.697170952@postoffice.reston.mci.net>"))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(resp) != "tim b913a602c7eda7a495b4e6e7334d3890" {
		t.Fatalf("unexpected digest response: %q", resp)
	}
}
