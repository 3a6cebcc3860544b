package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"camerasync/tools/synctrace"
)

func main() {
	path := flag.String("path", "", "Path to a trace bundle directory or manifest.json")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	manifest, events, beacons, err := synctrace.LoadBundle(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	payload := struct {
		Manifest interface{}        `json:"manifest"`
		Events   []synctrace.Event  `json:"events"`
		Beacons  []synctrace.Beacon `json:"beacons"`
	}{
		Manifest: manifest,
		Events:   events,
		Beacons:  beacons,
	}

	//1.- Render the trace bundle as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
