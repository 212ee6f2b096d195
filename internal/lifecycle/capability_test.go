package lifecycle

import (
	"strings"
	"testing"
)

func TestParseNode(t *testing.T) {
	tests := []struct {
		in   string
		want Node
	}{
		{"h1", Node{Host: "h1"}},
		{"ducker@h1", Node{Host: "h1", User: "ducker"}},
		{"ducker@h1:2222", Node{Host: "h1", Port: 2222, User: "ducker"}},
		{"[::1]:22", Node{Host: "::1", Port: 22}},
		{"::1", Node{Host: "::1"}},
	}
	for _, tt := range tests {
		got, err := ParseNode(tt.in)
		if err != nil {
			t.Fatalf("ParseNode(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseNode(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "u@", "h:0", "h:port"} {
		if _, err := ParseNode(bad); err == nil {
			t.Errorf("ParseNode(%q) should fail", bad)
		}
	}
	for in, want := range map[string]string{
		"ducker@":        `node "ducker@": empty host`,
		"ducker@h1:port": `node "ducker@h1:port": invalid port "port"`,
	} {
		if _, err := ParseNode(in); err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("ParseNode(%q) error = %v, want %q", in, err, want)
		}
	}
	if s := (Node{Host: "h", User: "u"}).String(); s != "u@h:22" {
		t.Errorf("String() = %q", s)
	}
}
