package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/simpatient/internal/evaluation"
	"github.com/pavelanni/simpatient/internal/events"
	appI18n "github.com/pavelanni/simpatient/internal/i18n"
	"github.com/pavelanni/simpatient/internal/interview"
	"github.com/pavelanni/simpatient/internal/model"
	"github.com/pavelanni/simpatient/internal/provider"
	"github.com/pavelanni/simpatient/internal/report"
	"github.com/pavelanni/simpatient/internal/session"
	"github.com/pavelanni/simpatient/internal/store"
	"github.com/pavelanni/simpatient/internal/transcript"
)

func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("server", "s", "http://localhost:8000", "Patient API base URL")
	f.Duration("timeout", 2*time.Minute, "Timeout for each API call")
	f.StringP("lang", "l", "en", "Language (en, ru)")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addStateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("state-db", "simpatient-state.db", "SQLite file keeping interview transcripts (empty keeps them in memory)")
	f.Duration("state-ttl", 24*time.Hour, "How long a stored transcript stays readable (0 = forever)")
}

func casesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "List the cases available for interview",
		RunE:  runCases,
	}
	addClientFlags(cmd)
	return cmd
}

func interviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Interview a virtual patient and get evaluated",
		RunE:  runInterview,
	}
	addClientFlags(cmd)
	addStateFlags(cmd)
	cmd.Flags().StringP("case", "c", "", "Case identifier (required)")
	_ = cmd.MarkFlagRequired("case")
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a finished interview from its stored transcript",
		RunE:  runEvaluate,
	}
	addClientFlags(cmd)
	addStateFlags(cmd)
	f := cmd.Flags()
	f.String("session", "", "Session token printed when the interview started (required)")
	f.StringP("case", "c", "", "Case identifier (required)")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("case")
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print session events published by the server",
		RunE:  runEvents,
	}
	f := cmd.Flags()
	f.String("nats-url", "nats://localhost:4222", "NATS server URL")
	f.String("nats-token", "", "NATS auth token")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

// clientContext initializes i18n and returns a context carrying the localizer.
func clientContext(v *viper.Viper) (context.Context, error) {
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	return appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang)), nil
}

// openTranscripts returns a transcript store over the configured storage and a
// function releasing it.
func openTranscripts(ctx context.Context, v *viper.Viper) (*transcript.Store, func(), error) {
	ttl := v.GetDuration("state-ttl")
	path := v.GetString("state-db")
	if path == "" {
		return transcript.NewStore(transcript.NewMemoryStorage(ttl)), func() {}, nil
	}

	db, err := store.New(path, store.WithTTL(ttl))
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if n, err := db.PurgeExpired(ctx); err != nil {
		slog.Warn("purge expired transcripts", "error", err)
	} else if n > 0 {
		slog.Info("purged expired transcripts", "count", n)
	}
	return transcript.NewStore(db), sync.OnceFunc(func() { db.Close() }), nil
}

func runCases(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, err := clientContext(v)
	if err != nil {
		return err
	}

	client := provider.NewClient(v.GetString("server"), v.GetDuration("timeout"))
	list, err := client.ListCases(ctx)
	if err != nil {
		return fmt.Errorf("list cases: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, appI18n.Tp(ctx, "CasesAvailable", len(list)))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			c.ID, c.PatientName, c.Age, c.Gender, c.DifficultyLevel, c.ChiefComplaint)
	}
	return tw.Flush()
}

func runInterview(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, err := clientContext(v)
	if err != nil {
		return err
	}

	transcripts, release, err := openTranscripts(ctx, v)
	if err != nil {
		return err
	}
	defer release()

	client := provider.NewClient(v.GetString("server"), v.GetDuration("timeout"))
	out := cmd.OutOrStdout()
	if err := checkServer(ctx, out, client, v.GetString("server")); err != nil {
		return err
	}

	sess := session.New(v.GetString("case"))
	orch := interview.New(sess, client, client, transcripts, slog.Default())
	if err := orch.Open(ctx); err != nil {
		if errors.Is(err, model.ErrCaseNotFound) {
			fmt.Fprintln(out, appI18n.T(ctx, "CaseNotFound"))
		}
		return err
	}
	cs, _ := orch.Case()
	fmt.Fprintf(out, "%s (session %s)\n", appI18n.T(ctx, "AppTitle"), sess.Token())
	fmt.Fprintln(out, appI18n.T(ctx, "InterviewHelp"))
	fmt.Fprintf(out, "\n%s: %s\n", cs.PatientName, orch.Transcript()[0].Content)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go onInterrupt(sigCh, orch, release, os.Exit)

	return interviewLoop(ctx, cmd.InOrStdin(), out, orch, client, transcripts)
}

// onInterrupt abandons the interview on the first signal, releases the
// transcript storage and exits. An ended interview keeps its transcript.
func onInterrupt(sigCh <-chan os.Signal, orch *interview.Orchestrator, release func(), exit func(int)) {
	if _, ok := <-sigCh; !ok {
		return
	}
	if orch.State() != interview.StateEnded {
		if err := orch.Close(context.Background()); err != nil {
			slog.Warn("discard transcript", "error", err)
		}
	}
	release()
	exit(130)
}

// checkServer fails early when the patient API cannot be reached.
func checkServer(ctx context.Context, out io.Writer, client *provider.Client, server string) error {
	if err := client.Health(ctx); err != nil {
		fmt.Fprintln(out, appI18n.Td(ctx, "ServerUnavailable", map[string]any{"URL": server}))
		return err
	}
	return nil
}

func interviewLoop(ctx context.Context, in io.Reader, out io.Writer, orch *interview.Orchestrator, client *provider.Client, transcripts *transcript.Store) error {
	sess := orch.Session()
	cs, _ := orch.Case()
	leave := func() error {
		if err := client.EndSession(ctx, sess.Token().String(), sess.CaseID()); err != nil {
			slog.Warn("end session", "error", err)
		}
		return orch.Close(ctx)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			if err := scanner.Err(); err != nil {
				return errors.Join(err, leave())
			}
			return leave()
		}

		switch line := strings.TrimSpace(scanner.Text()); line {
		case "/quit":
			return leave()
		case "/end":
			h, err := orch.End(ctx)
			if errors.Is(err, model.ErrInsufficientTurns) {
				fmt.Fprintln(out, appI18n.T(ctx, "InsufficientTurns"))
				continue
			}
			if err != nil {
				return err
			}
			if err := client.EndSession(ctx, h.Token.String(), h.CaseID); err != nil {
				slog.Warn("end session", "error", err)
			}
			return evaluateAndRender(ctx, out, client, transcripts, session.Resume(h.Token, h.CaseID))
		default:
			turn, err := orch.Submit(ctx, line)
			if err != nil {
				var pe *model.ProviderError
				if errors.As(err, &pe) {
					fmt.Fprintln(out, pe.UserMessage(appI18n.T(ctx, "PatientUnavailable")))
					continue
				}
				return err
			}
			if turn != nil {
				fmt.Fprintf(out, "%s: %s\n", cs.PatientName, turn.Content)
			}
		}
	}
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, err := clientContext(v)
	if err != nil {
		return err
	}

	transcripts, release, err := openTranscripts(ctx, v)
	if err != nil {
		return err
	}
	defer release()

	client := provider.NewClient(v.GetString("server"), v.GetDuration("timeout"))
	sess := session.Resume(session.Token(v.GetString("session")), v.GetString("case"))
	return evaluateAndRender(ctx, cmd.OutOrStdout(), client, transcripts, sess)
}

func evaluateAndRender(ctx context.Context, out io.Writer, scorer evaluation.ScoringProvider, transcripts *transcript.Store, sess session.Session) error {
	fmt.Fprintln(out, appI18n.Td(ctx, "Evaluating", map[string]any{"Session": sess.Token().String()}))

	req := evaluation.New(scorer, transcripts, evaluation.WithLogger(slog.Default()))
	res, err := req.Evaluate(ctx, sess.Token(), sess.CaseID())
	if err != nil {
		fmt.Fprintln(out, appI18n.T(ctx, "EvaluationUnavailable"))
		return err
	}
	return report.Render(ctx, out, report.Present(*res))
}

func runEvents(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := events.NewClient(ctx, v.GetString("nats-url"), v.GetString("nats-token"), slog.Default())
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	defer nc.Close()

	out := cmd.OutOrStdout()
	err = nc.Subscribe(events.SubjectAll, func(subject string, data []byte) {
		fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.TimeOnly), subject, data)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("listening for session events", "subject", events.SubjectAll)
	<-ctx.Done()
	return nil
}
