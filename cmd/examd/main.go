// examd - Exam session integrity client
//
//	examd init              Write a default configuration file
//	examd run               Run an exam attempt
//	examd status            Show stored attempts and their outcomes
//	examd help              Show usage
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"examd/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit()
	case "run":
		cmdRun()
	case "status":
		cmdStatus()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`examd - Exam Session Integrity Client

USAGE:
    examd <command> [options]

COMMANDS:
    init                Write a default config file (~/.config/examd/config.toml)
    run                 Run an exam attempt
    status              Show stored attempts and their outcomes
    help                Show this help message

RUN OPTIONS:
    -config <path>      Config file (default: ~/.config/examd/config.toml)
    -attempt <id>       Attempt id issued by the exam service (required)
    -url <base-url>     Exam service base URL (overrides config)
    -token <token>      Bearer token for this candidate

BASIC WORKFLOW:
    1. examd init                           # One-time setup, then edit config
    2. examd run -attempt <id> -token <t>   # Sit the exam
    3. examctl warnings <id>                # Review the warning record

During an attempt the camera-based detector and the navigation guard feed
a shared warning ledger. Three accepted warnings terminate the attempt.

ANSWER PROMPT COMMANDS:
    answer <text>       Answer the current question and advance
    skip                Skip the current question and advance
    prev                Go back one question (visited questions only)
    goto <n>            Jump to a previously visited question
    ack                 Acknowledge a section break and continue
    finish [text]       Submit the attempt from the current question
    status              Show timers and warning count
    quit                Leave the client (the attempt stays open)`)
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "examd", "config.toml")
}

func cmdInit() {
	path := defaultConfigPath()
	if len(os.Args) > 2 {
		path = os.Args[2]
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config already exists: %s\n", path)
		os.Exit(1)
	}

	cfg := config.Default()
	if err := config.Save(cfg, path); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote default config to %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Set service.exam_url to your exam service")
	fmt.Println("  2. Check capture.device_path matches your camera")
	fmt.Println("  3. Run 'examd run -attempt <id> -token <token>'")
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist yet.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}
