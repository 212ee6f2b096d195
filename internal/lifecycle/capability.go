package lifecycle

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Node is a caller-owned handle to one remote host running an instance of the
// application. The monitor only observes it.
type Node struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
	User string `json:"user" mapstructure:"user"`
}

// Addr returns host:port, defaulting the port to 22.
func (n Node) Addr() string {
	port := n.Port
	if port <= 0 {
		port = 22
	}
	return n.Host + ":" + strconv.Itoa(port)
}

func (n Node) String() string {
	if n.User == "" {
		return n.Addr()
	}
	return fmt.Sprintf("%s@%s", n.User, n.Addr())
}

// ParseNode parses "[user@]host[:port]". IPv6 hosts with a port need brackets.
func ParseNode(s string) (Node, error) {
	var n Node
	raw := strings.TrimSpace(s)
	s = raw
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		n.User, s = s[:i], s[i+1:]
	}
	if s == "" {
		return Node{}, fmt.Errorf("node %q: empty host", raw)
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// no port given
		n.Host = strings.Trim(s, "[]")
		return n, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return Node{}, fmt.Errorf("node %q: invalid port %q", raw, port)
	}
	n.Host, n.Port = host, p
	return n, nil
}

// ProcessController starts, stops and probes the application on a node.
// Stop and Kill must be safe to call on an already stopped process.
type ProcessController interface {
	Start(ctx context.Context, node Node, command string) error
	Stop(ctx context.Context, node Node, graceful bool) error
	Kill(ctx context.Context, node Node, graceful, allowFail bool) error
	Alive(ctx context.Context, node Node) (bool, error)
	Pids(ctx context.Context, node Node) ([]int, error)
	RemovePersistentState(ctx context.Context, node Node) error
}

// LogSource searches the captured output of the application on a node.
// pattern is an extended regular expression. When fromBeginning is false only
// output produced after the source's last mark is searched.
type LogSource interface {
	FindLines(ctx context.Context, node Node, pattern string, fromBeginning bool) ([]string, error)
}
