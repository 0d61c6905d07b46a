package imap

import "testing"

func TestXOAuth2ClientStartFormatsInitialResponse(t *testing.T) {
	c := NewXOAuth2Client("alice@example.com", "tok123")

	mech, ir, err := c.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mech != "XOAUTH2" {
		t.Errorf("mech = %q, want XOAUTH2", mech)
	}

	want := "user=alice@example.com\x01auth=Bearer tok123\x01\x01"
	if string(ir) != want {
		t.Errorf("initial response = %q, want %q", ir, want)
	}
}

func TestXOAuth2ClientNextAcknowledgesChallengeAfterStart(t *testing.T) {
	c := NewXOAuth2Client("alice@example.com", "tok123")
	if _, _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := c.Next([]byte(`{"status":"401"}`))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("Next response = %q, want empty", resp)
	}

	// A second challenge after the exchange is already done returns nil.
	resp, err = c.Next([]byte("anything"))
	if err != nil {
		t.Fatalf("Next (second call): %v", err)
	}
	if resp != nil {
		t.Errorf("Next response = %q, want nil once done", resp)
	}
}

func TestXOAuth2ClientNextWithNoChallenge(t *testing.T) {
	c := NewXOAuth2Client("alice@example.com", "tok123")
	if _, _, err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := c.Next(nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if resp != nil {
		t.Errorf("Next response = %q, want nil", resp)
	}
}
