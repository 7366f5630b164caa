package domain

import "testing"

func TestExpandIP(t *testing.T) {
	exp, ver, err := ExpandIP("2001:db8::1")
	if err != nil {
		t.Fatal(err)
	}
	if ver != "IPv6" || exp != "2001:0db8:0000:0000:0000:0000:0000:0001" {
		t.Fatalf("got %q (%s)", exp, ver)
	}

	exp, ver, err = ExpandIP("192.0.2.7")
	if err != nil {
		t.Fatal(err)
	}
	if ver != "IPv4" || exp != "192.0.2.7" {
		t.Fatalf("got %q (%s)", exp, ver)
	}

	if _, _, err := ExpandIP("not-an-ip"); err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestBlacklistGroup(t *testing.T) {
	g, err := BlacklistGroup("192.0.2.7")
	if err != nil || g != "192.0" {
		t.Fatalf("IPv4 group = %q, err %v", g, err)
	}
	g, err = BlacklistGroup("2001:db8:abcd::1")
	if err != nil || g != "2001:0db8:abcd" {
		t.Fatalf("IPv6 group = %q, err %v", g, err)
	}
}
