package main

// ServeFlags Flag structs to decouple cobra from logic for testing.
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

type AppFlags struct {
	Name      string
	Path      string
	Arguments string
}

type HistoryFlags struct {
	Limit int
}

// ListFlags holds flags for the list command
type ListFlags struct {
	Detect bool
}
