package command

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	cmd, ok := Parse("  ls   -la  /tmp ")
	if !ok {
		t.Fatalf("expected command")
	}
	if cmd.Name != "ls" || len(cmd.Args) != 2 || cmd.Args[1] != "/tmp" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.Remainder != "-la  /tmp" {
		t.Fatalf("unexpected remainder %q", cmd.Remainder)
	}
	if _, ok := Parse("   "); ok {
		t.Fatalf("expected blank line to be rejected")
	}
}

func TestParseSSH(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  SSHTarget
		valid bool
	}{
		{"host", "ssh example.com", SSHTarget{Host: "example.com"}, true},
		{"user-host", "ssh alice@example.com", SSHTarget{User: "alice", Host: "example.com"}, true},
		{"port", "ssh -p 2222 alice@example.com", SSHTarget{User: "alice", Host: "example.com", Port: 2222}, true},
		{"port-joined", "ssh -p2222 example.com", SSHTarget{Host: "example.com", Port: 2222}, true},
		{"user-with-at", "ssh a@b@example.com", SSHTarget{User: "a@b", Host: "example.com"}, true},
		{"missing-host", "ssh", SSHTarget{}, false},
		{"user-without-host", "ssh alice@", SSHTarget{}, false},
		{"empty-user", "ssh @example.com", SSHTarget{}, false},
		{"bad-port", "ssh -p abc example.com", SSHTarget{}, false},
		{"port-without-value", "ssh example.com -p", SSHTarget{}, false},
		{"two-hosts", "ssh a b", SSHTarget{}, false},
		{"unknown-flag", "ssh -X example.com", SSHTarget{}, false},
	}
	for _, tc := range cases {
		cmd, _ := Parse(tc.input)
		got, err := ParseSSH(cmd)
		if tc.valid {
			if err != nil {
				t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
			}
			if got != tc.want {
				t.Fatalf("case %q expected %+v, got %+v", tc.name, tc.want, got)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidSSH) {
			t.Fatalf("case %q expected invalid format, got %v", tc.name, err)
		}
	}
}
