package client

import "time"

// Service describes a service registered on the daemon.
type Service struct {
	Name        string   `json:"name"`
	ClassName   string   `json:"class_name"`
	Nodes       []string `json:"nodes"`
	CaptureFile string   `json:"capture_file"`
}

// NodeState is the derived state of one node.
type NodeState struct {
	Node  string `json:"node"`
	State string `json:"state"`
}

// ServiceState is the combined state of a service and of each of its nodes.
type ServiceState struct {
	Service string      `json:"service"`
	State   string      `json:"state"`
	Nodes   []NodeState `json:"nodes"`
}

// Result is a named value the application printed.
type Result struct {
	Service string   `json:"service"`
	Name    string   `json:"name"`
	Value   string   `json:"value,omitempty"`
	Values  []string `json:"values,omitempty"`
}

// NodePids lists the application processes found on one node.
type NodePids struct {
	Node string `json:"node"`
	Pids []int  `json:"pids"`
}

// StopRequest selects how a service is stopped.
type StopRequest struct {
	Name     string
	Graceful bool
	// Timeout bounds the graceful wait; zero uses the service default.
	Timeout time.Duration
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
