// examctl - Inspect and verify locally stored exam attempts
//
//	examctl attempts            List stored attempts
//	examctl warnings <id>       Dump an attempt's warning record
//	examctl verify <id>         Verify an attempt's warning chain
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"examd/internal/config"
	"examd/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "attempts":
		cmdAttempts()
	case "warnings":
		cmdWarnings()
	case "verify":
		cmdVerify()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`examctl - Inspect and verify stored exam attempts

USAGE:
    examctl <command> [options]

COMMANDS:
    attempts                List stored attempts and outcomes
    warnings <attempt-id>   Dump an attempt's warning record as YAML
    verify <attempt-id>     Verify the warning chain (HMAC + linkage)
    help                    Show this help message

OPTIONS:
    -config <path>          Config file (default: ~/.config/examd/config.toml)

The warning chain is keyed by this device's secret. Verification fails if
any record was modified, removed, or reordered after it was written.`)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".config", "examd", "config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// openStore opens the attempt store with the chain key derived for the
// given attempt. An empty attempt id opens with a read-only placeholder
// key; listing does not touch the chain.
func openStore(configPath, attemptID string) *store.Store {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	key := make([]byte, 32)
	if attemptID != "" {
		secret, err := store.LoadOrCreateSecret(cfg.Storage.SecretPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading device secret: %v\n", err)
			os.Exit(1)
		}
		key, err = store.DeriveKey(secret, attemptID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error deriving key: %v\n", err)
			os.Exit(1)
		}
	}

	st, err := store.Open(cfg.Storage.Path, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cmdAttempts() {
	fs := flag.NewFlagSet("attempts", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	fs.Parse(os.Args[2:])

	st := openStore(*configPath, "")
	defer st.Close()

	ids, err := st.AttemptIDs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing attempts: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Println("No attempts recorded.")
		return
	}

	for _, id := range ids {
		a, err := st.Attempt(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading attempt %s: %v\n", id, err)
			continue
		}
		outcome := "open"
		switch {
		case a.Terminated:
			outcome = "terminated"
		case a.Submitted:
			outcome = "submitted"
		}
		fmt.Printf("%-24s %s  warnings %d  %s\n",
			a.AttemptID, a.StartedAt.Format("2006-01-02 15:04"), a.WarningCount, outcome)
	}
}

// warningReport is the YAML shape of one attempt's warning record.
type warningReport struct {
	AttemptID         string          `yaml:"attempt_id"`
	StartedAt         time.Time       `yaml:"started_at"`
	Submitted         bool            `yaml:"submitted"`
	Terminated        bool            `yaml:"terminated"`
	TerminationReason string          `yaml:"termination_reason,omitempty"`
	WarningCount      int             `yaml:"warning_count"`
	Warnings          []warningDetail `yaml:"warnings"`
}

type warningDetail struct {
	EventID    string    `yaml:"event_id"`
	Kind       string    `yaml:"kind"`
	Severity   string    `yaml:"severity"`
	Detail     string    `yaml:"detail,omitempty"`
	OccurredAt time.Time `yaml:"occurred_at"`
	Count      int       `yaml:"count"`
}

func cmdWarnings() {
	fs := flag.NewFlagSet("warnings", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: examctl warnings <attempt-id>")
		os.Exit(1)
	}
	attemptID := fs.Arg(0)

	st := openStore(*configPath, attemptID)
	defer st.Close()

	a, err := st.Attempt(attemptID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	records, err := st.Warnings(attemptID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading warnings: %v\n", err)
		os.Exit(1)
	}

	report := warningReport{
		AttemptID:         a.AttemptID,
		StartedAt:         a.StartedAt,
		Submitted:         a.Submitted,
		Terminated:        a.Terminated,
		TerminationReason: a.TerminationReason,
		WarningCount:      a.WarningCount,
	}
	for _, r := range records {
		report.Warnings = append(report.Warnings, warningDetail{
			EventID:    r.EventID,
			Kind:       string(r.Kind),
			Severity:   r.Severity.String(),
			Detail:     r.Detail,
			OccurredAt: r.OccurredAt,
			Count:      r.Count,
		})
	}

	out, err := yaml.Marshal(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}

func cmdVerify() {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: examctl verify <attempt-id>")
		os.Exit(1)
	}
	attemptID := fs.Arg(0)

	st := openStore(*configPath, attemptID)
	defer st.Close()

	if _, err := st.Attempt(attemptID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := st.VerifyChain(attemptID); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		os.Exit(1)
	}

	records, err := st.Warnings(attemptID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading warnings: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: %d warning records verified for %s\n", len(records), attemptID)
}
