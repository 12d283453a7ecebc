// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

// Package main is the cansentry command.
//
// cansentry classifies CAN frames against a message-definition file and a
// knowledge base of expected behaviour, flagging frames that break the
// expectations as anomalous.
//
// # Commands
//
//	cansentry detect  -dbc F -kb F -input F [-format candump|pcap] [-json]
//	cansentry serve   [-config F] [-input F] [-dbc F] [-kb F] [-addr A]
//	cansentry inspect -dbc F -kb F [-json]
//	cansentry version
//
// detect replays a recorded log offline and prints a summary with detection
// latency and, for labelled logs, precision and recall.
//
// serve runs the supervisor tree: the detection service reading the
// configured source, the alert journal, the alert bus and the HTTP API with
// its websocket stream. Configuration is layered defaults, YAML file and
// CANSENTRY_* environment variables, with command-line flags applied last.
//
// inspect prints what was loaded from the two rule files, including the
// definition lines that were skipped.
//
// # Signal Handling
//
// serve shuts down gracefully on SIGINT and SIGTERM. With input.exit_on_eof
// set it also stops once a finite replay is exhausted.
package main

import (
	"fmt"
	"io"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches to a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "detect":
		return runDetect(args[1:], stdout, stderr)
	case "serve":
		return runServe(args[1:], stderr)
	case "inspect":
		return runInspect(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "cansentry %s\n", version)
		return 0
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `cansentry - CAN bus intrusion detection

Usage: cansentry <command> [options]

Commands:
  detect    Replay a recorded log and print a detection summary
  serve     Run live detection with the HTTP API and alert stream
  inspect   Print the loaded message definitions and rules
  version   Print the version
  help      Show this help message

Run 'cansentry <command> -h' for the options of a command.

Examples:
  cansentry detect -dbc car.dbc -kb car.yaml -input attack.log
  cansentry detect -dbc car.dbc -kb car.yaml -input capture.pcap -json
  cansentry serve -config /etc/cansentry/config.yaml
  CANSENTRY_INPUT__PATH=/dev/ttyACM0 CANSENTRY_INPUT__KIND=slcan cansentry serve
`)
}
