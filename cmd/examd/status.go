package main

import (
	"flag"
	"fmt"
	"os"

	"examd/internal/store"
)

// cmdStatus lists stored attempts and their outcomes. It reads the store
// without an HMAC key check; examctl verify covers chain integrity.
func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if _, err := os.Stat(cfg.Storage.Path); os.IsNotExist(err) {
		fmt.Println("No attempts recorded yet.")
		return
	}

	// Store reads do not touch the chain key, so any key of valid length
	// opens the database for listing.
	st, err := store.Open(cfg.Storage.Path, make([]byte, 32))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ids, err := st.AttemptIDs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing attempts: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Println("No attempts recorded yet.")
		return
	}

	fmt.Printf("Exam service: %s\n", cfg.Service.ExamURL)
	fmt.Printf("Store:        %s\n\n", cfg.Storage.Path)
	for _, id := range ids {
		a, err := st.Attempt(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading attempt %s: %v\n", id, err)
			continue
		}
		outcome := "open"
		switch {
		case a.Terminated:
			outcome = "terminated: " + a.TerminationReason
		case a.Submitted:
			outcome = "submitted"
		}
		fmt.Printf("%s  started %s  warnings %d  %s\n",
			a.AttemptID,
			a.StartedAt.Format("2006-01-02 15:04:05"),
			a.WarningCount,
			outcome)
	}
}
