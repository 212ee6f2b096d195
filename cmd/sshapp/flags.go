package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select a running daemon. With an empty APIUrl commands act on the
// nodes directly using the configuration file.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

type RunFlags struct {
	ConfigPath string
	Name       string
	Results    []string
	Timeout    time.Duration
}

type StartFlags struct {
	ConfigPath string
	Name       string
	NoWait     bool
}

type StopFlags struct {
	ConfigPath string
	Name       string // exact name or wildcard pattern
	Kill       bool
	Timeout    time.Duration
	APIFlags
}

type StatusFlags struct {
	ConfigPath string
	Name       string
	APIFlags
}

type ResultFlags struct {
	ConfigPath string
	Name       string
	Result     string
	All        bool
	APIFlags
}

type CleanFlags struct {
	ConfigPath string
	Name       string // exact name or wildcard pattern
	APIFlags
}

type ServeFlags struct {
	ConfigPath  string
	Daemonize   bool
	PidFile     string
	LogFile     string
	NonBlocking bool // return once the servers are up; used by tests
}
