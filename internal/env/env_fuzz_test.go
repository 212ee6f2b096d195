package env

import (
	"strings"
	"testing"
)

// FuzzExpandMerge checks that merged output stays well formed for arbitrary
// global and per-service lists.
func FuzzExpandMerge(f *testing.F) {
	f.Add([]byte("APP_HOME=/opt/app\nLOG=${APP_HOME}/logs"), []byte("LOG=${APP_HOME}/custom"))
	f.Add([]byte("JVM_OPTS=-Xmx1g"), []byte("JVM_OPTS=${JVM_OPTS} -Xms1g"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, globalB, perB []byte) {
		global := firstLines(string(globalB), 20)
		per := firstLines(string(perB), 20)

		e := New()
		e.SetPairs(global)
		out := e.Merge(per)
		for _, kv := range out {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
		if strings.Contains(strings.Join(append(global, per...), ""), "$") {
			return
		}
		for _, kv := range out {
			if strings.Contains(kv, "${") {
				t.Fatalf("unexpected placeholder remains: %q", kv)
			}
		}
	})
}

// FuzzPrefixRoundTrip parses the rendered prefix back the way a POSIX shell
// would and expects the assignments Merge produced for valid names.
func FuzzPrefixRoundTrip(f *testing.F) {
	f.Add([]byte("JVM_OPTS=-Xmx1g -Xms1g\nMODE=fast"))
	f.Add([]byte("QUOTE=it's\nEMPTY="))
	f.Add([]byte("1BAD=x\nCMD=a;b|c && $(rm -rf /)"))

	f.Fuzz(func(t *testing.T, in []byte) {
		e := New()
		e.SetPairs(firstLines(string(in), 20))

		want := map[string]string{}
		for _, kv := range e.Merge(nil) {
			i := strings.IndexByte(kv, '=')
			if validName(kv[:i]) {
				want[kv[:i]] = kv[i+1:]
			}
		}
		got, ok := parseAssignments(e.Prefix(nil))
		if !ok {
			t.Fatalf("prefix is not a list of assignments: %q", e.Prefix(nil))
		}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for k, v := range want {
			if got[k] != v {
				t.Fatalf("%s: got %q, want %q", k, got[k], v)
			}
		}
	})
}

func firstLines(s string, max int) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
		if len(out) == max {
			break
		}
	}
	return out
}

// parseAssignments understands the subset of shell words Prefix emits:
// NAME=word separated by single spaces, words made of bare characters,
// single-quoted runs and backslash escapes.
func parseAssignments(s string) (map[string]string, bool) {
	out := map[string]string{}
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 || !validName(s[:eq]) {
			return nil, false
		}
		name := s[:eq]
		s = s[eq+1:]
		var v strings.Builder
		for {
			if s == "" {
				return nil, false
			}
			c := s[0]
			if c == ' ' {
				s = s[1:]
				break
			}
			switch c {
			case '\'':
				end := strings.IndexByte(s[1:], '\'')
				if end < 0 {
					return nil, false
				}
				v.WriteString(s[1 : 1+end])
				s = s[end+2:]
			case '\\':
				if len(s) < 2 {
					return nil, false
				}
				v.WriteByte(s[1])
				s = s[2:]
			default:
				v.WriteByte(c)
				s = s[1:]
			}
		}
		out[name] = v.String()
	}
	return out, true
}
