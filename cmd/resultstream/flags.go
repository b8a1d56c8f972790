package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
}

// ProducerFlags holds the ingest connection shared by the producer commands
// (tail, scrape) and clear.
type ProducerFlags struct {
	APIUrl  string
	Tenant  string
	Token   string
	Timeout time.Duration
}

// TailFlags holds flags for the tail command.
type TailFlags struct {
	ProducerFlags
	Name     string
	Path     string
	Interval time.Duration
}

// ScrapeFlags holds flags for the scrape command.
type ScrapeFlags struct {
	ProducerFlags
	Interval time.Duration
}
