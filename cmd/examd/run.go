package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"examd/internal/capture"
	"examd/internal/classify"
	"examd/internal/config"
	"examd/internal/examsvc"
	"examd/internal/guard"
	"examd/internal/ledger"
	"examd/internal/logging"
	"examd/internal/proctor"
	"examd/internal/sched"
	"examd/internal/session"
	"examd/internal/store"
)

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	attemptID := fs.String("attempt", "", "Attempt id issued by the exam service")
	examURL := fs.String("url", "", "Exam service base URL (overrides config)")
	token := fs.String("token", "", "Bearer token for this candidate")
	fs.Parse(os.Args[2:])

	if *attemptID == "" {
		fmt.Fprintln(os.Stderr, "Usage: examd run -attempt <id> [-config path] [-url base-url] [-token token]")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *examURL != "" {
		cfg.Service.ExamURL = *examURL
	}
	if cfg.Service.ExamURL == "" {
		fmt.Fprintf(os.Stderr, "Error: %v\n", config.ErrNoExamURL)
		os.Exit(1)
	}

	if err := runAttempt(cfg, *attemptID, *token); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAttempt(cfg *config.Config, attemptID, token string) error {
	logger, err := openLogger(cfg, attemptID)
	if err != nil {
		return err
	}
	defer logger.Close()
	logging.SetDefault(logger)

	// Local store first: the re-entry guard must hold even when the exam
	// service is unreachable.
	secret, err := store.LoadOrCreateSecret(cfg.Storage.SecretPath)
	if err != nil {
		return err
	}
	hmacKey, err := store.DeriveKey(secret, attemptID)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.Path, hmacKey)
	if err != nil {
		return err
	}
	defer st.Close()

	record, err := st.EnsureAttempt(attemptID)
	if err != nil {
		return err
	}
	if record.Finished() {
		if record.Terminated {
			return fmt.Errorf("attempt %s was terminated on this device: %s",
				attemptID, record.TerminationReason)
		}
		return fmt.Errorf("attempt %s was already submitted on this device", attemptID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := examsvc.NewClient(examsvc.Config{
		BaseURL: cfg.Service.ExamURL,
		Token:   token,
		Timeout: time.Duration(cfg.Service.RequestTimeoutMs) * time.Millisecond,
	}, logger.Component("examsvc"))

	exam, first, err := client.StartTest(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("start test: %w", err)
	}

	var sink *examsvc.Sink
	if cfg.Service.SinkURL != "" {
		sink = examsvc.NewSink(examsvc.SinkConfig{
			BaseURL: cfg.Service.SinkURL,
			Token:   token,
			Timeout: time.Duration(cfg.Service.SinkTimeoutMs) * time.Millisecond,
		}, attemptID, logger.Component("sink"))
	}

	lgr := ledger.New(ledger.Config{
		WarningLimit: cfg.Ledger.WarningLimit,
		Cooldown:     time.Duration(cfg.Ledger.CooldownMs) * time.Millisecond,
	}, logger.Component("ledger"))

	controller, err := session.NewController(session.Config{
		ProcessingPlaceholder: cfg.Session.ProcessingPlaceholder,
	}, exam, client, logger.Component("session"))
	if err != nil {
		return err
	}

	source := capture.Open(capture.Options{
		DevicePath:   cfg.Capture.DevicePath,
		Width:        cfg.Capture.Width,
		Height:       cfg.Capture.Height,
		HotplugWatch: cfg.Capture.HotplugWatch,
	})
	defer source.Close()

	classifier := classify.NewRemote(classify.RemoteOptions{
		Endpoint:          cfg.Classify.Endpoint,
		Timeout:           time.Duration(cfg.Classify.RequestTimeoutMs) * time.Millisecond,
		ValidateResponses: cfg.Classify.ValidateResponses,
	})

	detector := proctor.New(proctor.Config{
		FaceInterval:     time.Duration(cfg.Proctor.FaceIntervalMs) * time.Millisecond,
		ObjectInterval:   time.Duration(cfg.Proctor.ObjectIntervalMs) * time.Millisecond,
		FaceTicks:        cfg.Proctor.FaceTicks,
		ObjectTicks:      cfg.Proctor.ObjectTicks,
		TurnThreshold:    cfg.Proctor.TurnThreshold,
		Mirrored:         cfg.Proctor.Mirrored,
		PhoneConfidence:  cfg.Proctor.PhoneConfidence,
		BookConfidence:   cfg.Proctor.BookConfidence,
		PersonConfidence: cfg.Proctor.PersonConfidence,
	}, source, classifier, lgr, logger.Component("proctor"))

	g := guard.New(guard.Config{
		TrapDepth:     cfg.Guard.TrapDepth,
		ConfirmUnload: cfg.Guard.ConfirmUnload,
	}, guard.NewPlatformHost(), lgr, logger.Component("guard"))

	// Persist every accepted warning locally; report it remotely when a
	// sink is configured. Local escalation is authoritative either way.
	lgr.OnAccept(func(n ledger.Notification) {
		if err := st.AppendWarning(attemptID, n.Event, n.Count); err != nil {
			logger.Error("persist warning", "error", err)
		}
		if sink != nil {
			sink.Report(n)
		}
	})

	// Termination interrupt: freeze the session, stand down the defenses,
	// release the camera.
	lgr.OnTerminate(func(e ledger.Event) {
		reason := "warning limit reached: " + string(e.Kind)
		controller.Terminate(reason)
		g.Disable()
		source.Close()
		if err := st.MarkTerminated(attemptID, reason); err != nil {
			logger.Error("mark terminated", "error", err)
		}
	})

	sch := sched.New(ctx)
	defer sch.Stop()

	notifications := lgr.Subscribe()
	updates := controller.Updates()

	if err := controller.Start(ctx, first); err != nil {
		return err
	}
	detector.Start(sch)
	if err := g.Start(sch); err != nil {
		return fmt.Errorf("start guard: %w", err)
	}

	sch.Go("ui-notifications", func(ctx context.Context) {
		renderNotifications(ctx, notifications, updates)
	})

	fmt.Printf("Attempt %s started: %d questions in %d sections.\n",
		attemptID, exam.TotalQuestions, len(exam.Sections))
	fmt.Println("Type 'help' for prompt commands.")
	printQuestion(controller)

	promptLoop(ctx, controller)

	// Wind down before reporting the outcome.
	g.Disable()
	sch.Stop()

	switch controller.State() {
	case session.StateCompleted:
		if err := st.MarkSubmitted(attemptID); err != nil {
			logger.Error("mark submitted", "error", err)
		}
		printResults(controller)
	case session.StateTerminated:
		printTermination(controller, lgr)
	default:
		fmt.Println("\nAttempt left open. Run again with the same attempt id to resume.")
	}
	return nil
}

func openLogger(cfg *config.Config, attemptID string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		AttemptID: attemptID,
		Component: "examd",
	})
}

// promptLoop reads candidate commands until the attempt reaches a terminal
// state or stdin closes.
func promptLoop(ctx context.Context, c *session.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if c.State().Terminal() {
			return
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			printQuestion(c)
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch verb {
		case "answer":
			if rest == "" {
				fmt.Println("Usage: answer <text>")
				continue
			}
			err = c.Next(rest)
		case "skip":
			err = c.Skip()
		case "prev":
			err = c.Previous()
		case "goto":
			n, convErr := strconv.Atoi(rest)
			if convErr != nil {
				fmt.Println("Usage: goto <question number>")
				continue
			}
			err = c.GoTo(n)
		case "ack":
			err = c.AcknowledgeSection()
		case "finish":
			var answer *string
			if rest != "" {
				answer = &rest
			}
			err = c.Finish(answer)
		case "status":
			printStatus(c)
			continue
		case "help":
			fmt.Println("Commands: answer <text>, skip, prev, goto <n>, ack, finish [text], status, quit")
			continue
		case "quit", "exit":
			return
		default:
			fmt.Printf("Unknown command: %s\n", verb)
			continue
		}

		if err != nil {
			reportCommandError(err)
			continue
		}
		if !c.State().Terminal() && c.State() != session.StateSectionBreak {
			printQuestion(c)
		}
	}
}

func reportCommandError(err error) {
	switch {
	case errors.Is(err, session.ErrNotCached):
		fmt.Println("That question has not been reached yet.")
	case errors.Is(err, session.ErrQuestionOutOfRange):
		fmt.Println("No such question.")
	case errors.Is(err, session.ErrNoSectionBreak):
		fmt.Println("There is no section break to acknowledge.")
	case errors.Is(err, session.ErrEnded):
		fmt.Println("The attempt has ended.")
	default:
		// Submission failures are recoverable; the question timer resumed.
		fmt.Printf("Could not reach the exam service: %v\nYour answer was not lost. Try again.\n", err)
	}
}

func printQuestion(c *session.Controller) {
	q, err := c.Current()
	if err != nil {
		return
	}
	fmt.Printf("\n--- Question %d (%s) ---\n", q.Number, q.Section)
	fmt.Println(q.Body)
	for i, opt := range q.Options {
		fmt.Printf("  %c) %s\n", 'A'+i, opt)
	}
	if q.MultipleChoice {
		fmt.Println("  (multiple answers allowed)")
	}
	if remaining := c.Remaining(); remaining > 0 {
		fmt.Printf("Time for this question: %s\n", remaining.Round(time.Second))
	}
}

func printStatus(c *session.Controller) {
	fmt.Printf("State: %s  Elapsed: %s  Question time left: %s\n",
		c.State(),
		c.Elapsed().Round(time.Second),
		c.Remaining().Round(time.Second))
}

// renderNotifications prints warning banners and session transitions as
// they happen, independent of the prompt.
func renderNotifications(ctx context.Context, notifications <-chan ledger.Notification, updates <-chan session.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notifications:
			printNotification(n)
		case u := <-updates:
			printUpdate(u)
		}
	}
}

func printNotification(n ledger.Notification) {
	if n.Advisory {
		fmt.Printf("\n[notice] %s\n> ", n.Event.Kind)
		return
	}
	bell := ""
	if n.Audible {
		bell = "\a"
	}
	fmt.Printf("%s\n[WARNING %d/%d] %s", bell, n.Count, n.Limit, n.Event.Kind)
	if n.Event.Detail != "" {
		fmt.Printf(" (%s)", n.Event.Detail)
	}
	if n.Terminal {
		fmt.Print("\nWarning limit reached. The attempt is being terminated.")
	}
	fmt.Print("\n> ")
}

func printUpdate(u session.Update) {
	switch u.State {
	case session.StateSectionBreak:
		fmt.Print("\nSection complete. Timers are paused. Type 'ack' to continue.\n> ")
	case session.StateAnswering:
		if u.AutoSkipped {
			fmt.Print("\nTime expired; the question was skipped.\n> ")
		}
	case session.StateSubmitting:
		fmt.Print("\nSubmitting attempt...\n")
	}
}

func printResults(c *session.Controller) {
	fmt.Println("\nAttempt submitted.")
	if r := c.Results(); r != nil {
		fmt.Printf("Results: %s\n", r.Summary)
	}
	answered := len(c.Answers().Answers())
	skipped := len(c.Answers().SkipSet())
	fmt.Printf("Answered %d, skipped %d.\n", answered, skipped)
}

func printTermination(c *session.Controller, lgr *ledger.Ledger) {
	fmt.Printf("\nAttempt terminated: %s\n", c.TerminationReason())
	fmt.Println("Warning record:")
	for i, e := range lgr.Record() {
		fmt.Printf("  %d. %s  %s (%s)\n",
			i+1, e.OccurredAt.Format("15:04:05"), e.Kind, e.Severity)
	}
}
