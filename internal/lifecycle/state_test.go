package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  State
	}{
		{"empty", nil, StateNotStarted},
		{"noise only", []string{"Topology snapshot", "hello"}, StateNotStarted},
		{"initialized", []string{"IGNITE_APPLICATION_INITIALIZED"}, StateInitialized},
		{"finished", []string{"IGNITE_APPLICATION_INITIALIZED", "IGNITE_APPLICATION_FINISHED"}, StateFinished},
		{"broken first", []string{"IGNITE_APPLICATION_BROKEN", "IGNITE_APPLICATION_INITIALIZED"}, StateBroken},
		{"broken last", []string{"IGNITE_APPLICATION_FINISHED", "IGNITE_APPLICATION_BROKEN"}, StateBroken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.lines, Markers{}); got != tt.want {
				t.Fatalf("Derive() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if got := Classify([]string{"a", "OK"}, "OK", "BAD"); got != Success {
		t.Fatalf("got %s", got)
	}
	if got := Classify([]string{"OK", "BAD"}, "OK", "BAD"); got != Broken {
		t.Fatalf("got %s", got)
	}
	if got := Classify([]string{"nothing"}, "OK", "BAD"); got != NotFound {
		t.Fatalf("got %s", got)
	}
}

func TestMarkersWithDefaults(t *testing.T) {
	m := Markers{Broken: "CUSTOM_BROKEN"}.WithDefaults()
	if m.Broken != "CUSTOM_BROKEN" || m.Initialized != DefaultInitializedMarker || m.Topology != DefaultTopologyMarker {
		t.Fatalf("unexpected markers: %+v", m)
	}
}

// Any log holding the broken marker is reported as a failure, wherever the
// success marker appears.
func TestProperty_BrokenPrecedence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		noise := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,20}`), 0, 10).Draw(t, "noise")
		brokenAt := rapid.IntRange(0, len(noise)).Draw(t, "brokenAt")
		successAt := rapid.IntRange(0, len(noise)+1).Draw(t, "successAt")

		lines := append([]string(nil), noise...)
		lines = insert(lines, brokenAt, DefaultBrokenMarker)
		lines = insert(lines, successAt, DefaultInitializedMarker)

		logs := newFakeLogs()
		logs.Append(node1, lines...)
		m := NewMonitor([]Node{node1}, newFakeCtrl(), logs, Options{PollInterval: time.Millisecond})
		err := m.CheckStatus(context.Background(), DefaultInitializedMarker, 10*time.Millisecond)
		if !IsExecution(err) {
			t.Fatalf("expected execution failure for %q, got %v", lines, err)
		}
		if Derive(lines, Markers{}) != StateBroken {
			t.Fatalf("Derive did not report broken for %q", lines)
		}
	})
}

// Logs with only the success marker never fail.
func TestProperty_SuccessOnly(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		noise := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,20}`), 0, 10).Draw(t, "noise")
		at := rapid.IntRange(0, len(noise)).Draw(t, "at")
		lines := insert(append([]string(nil), noise...), at, DefaultFinishedMarker)

		logs := newFakeLogs()
		logs.Append(node1, lines...)
		m := NewMonitor([]Node{node1}, newFakeCtrl(), logs, Options{PollInterval: time.Millisecond})
		if err := m.CheckStatus(context.Background(), DefaultFinishedMarker, 10*time.Millisecond); err != nil {
			t.Fatalf("unexpected error for %q: %v", lines, err)
		}
	})
}

// ExtractResult is idempotent and asserts one result per node.
func TestProperty_ExtractResultCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nodeCount := rapid.IntRange(1, 4).Draw(t, "nodes")
		logs := newFakeLogs()
		nodes := make([]Node, 0, nodeCount)
		total := 0
		for i := 0; i < nodeCount; i++ {
			n := Node{Host: fmt.Sprintf("host%d", i)}
			nodes = append(nodes, n)
			k := rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("results%d", i))
			for j := 0; j < k; j++ {
				payload := rapid.StringMatching(`[a-z0-9]{1,8}`).Draw(t, "payload")
				logs.Append(n, "VALUE-> "+payload+" <-")
			}
			total += k
		}
		m := NewMonitor(nodes, newFakeCtrl(), logs, Options{})

		first, err1 := m.ExtractResult(context.Background(), "VALUE")
		second, err2 := m.ExtractResult(context.Background(), "VALUE")
		if total != nodeCount {
			if !IsAssertion(err1) || !IsAssertion(err2) {
				t.Fatalf("expected assertion failure for %d results on %d nodes, got %v", total, nodeCount, err1)
			}
			return
		}
		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors: %v, %v", err1, err2)
		}
		if first != second {
			t.Fatalf("not idempotent: %q != %q", first, second)
		}
	})
}

func insert(s []string, i int, v string) []string {
	if i > len(s) {
		i = len(s)
	}
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func TestCombine(t *testing.T) {
	tests := []struct {
		in   []State
		want State
	}{
		{nil, StateNotStarted},
		{[]State{StateFinished, StateFinished}, StateFinished},
		{[]State{StateFinished, StateInitialized}, StateInitialized},
		{[]State{StateInitialized, StateNotStarted}, StateNotStarted},
		{[]State{StateNotStarted, StateBroken, StateFinished}, StateBroken},
	}
	for _, tt := range tests {
		if got := Combine(tt.in...); got != tt.want {
			t.Errorf("Combine(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
