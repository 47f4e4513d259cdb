package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type APIFlags struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type StartFlags struct {
	Cmd         string
	Template    string
	Type        string
	Memory      string
	WorkDir     string
	Env         []string
	EnvFiles    []string
	AutoRestart bool
}

type StopFlags struct {
	Wait time.Duration
}

type LogsFlags struct {
	Merge bool
	Tail  int
}

type BackupFlags struct {
	Server string
	Keep   int
	Force  bool
}

type TunnelFlags struct {
	Dir  string
	Logs string
}

type CrashFlags struct {
	File string
}

type TemplateFlags struct {
	Name   string
	Memory string
	Jar    string
	Java   string
	Output string
	Force  bool
}
