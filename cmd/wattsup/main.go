// wattsup runs bill predictions and the energy chat assistant from a
// terminal, reading trained artifacts from a local directory.
//
// Usage:
//
//	wattsup predict --units 200,220,240 --bills 1200,1320,1440
//	wattsup chat
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"wattsup/internal/artifact"
	"wattsup/internal/billing"
	"wattsup/internal/domain"
	"wattsup/internal/intent"
	"wattsup/internal/integrations/openai"
	"wattsup/internal/repository"
	"wattsup/internal/usecase"
)

var exitWords = map[string]bool{"exit": true, "quit": true, "stop": true}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	app := &cli.App{
		Name:  "wattsup",
		Usage: "Electricity bill prediction and energy-saving chat",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "artifacts",
				Aliases: []string{"a"},
				Value:   "artifacts",
				Usage:   "Directory holding the trained model exports",
				EnvVars: []string{"ARTIFACT_DIR"},
			},
			&cli.StringFlag{
				Name:    "regression",
				Value:   "bill_model.json",
				Usage:   "File name of the bill regression export",
				EnvVars: []string{"REGRESSION_ARTIFACT"},
			},
			&cli.StringFlag{
				Name:    "classifier",
				Value:   "intent_model.json",
				Usage:   "File name of the intent classifier export",
				EnvVars: []string{"CLASSIFIER_ARTIFACT"},
			},
		},
		Commands: []*cli.Command{
			predictCommand(),
			chatCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func predictCommand() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Predict next month's units and bill from the last three months",
		Flags: []cli.Flag{
			&cli.Float64SliceFlag{
				Name:  "units",
				Value: cli.NewFloat64Slice(200, 220, 240),
				Usage: "Units consumed per month, oldest first",
			},
			&cli.Float64SliceFlag{
				Name:  "bills",
				Value: cli.NewFloat64Slice(1200, 1320, 1440),
				Usage: "Amount billed per month, oldest first",
			},
		},
		Action: func(c *cli.Context) error {
			readings, err := readingsFrom(c.Float64Slice("units"), c.Float64Slice("bills"))
			if err != nil {
				return err
			}
			src, err := artifact.NewDirSource(c.String("artifacts"))
			if err != nil {
				return err
			}
			model, err := artifact.LoadBillModel(c.Context, src, c.String("regression"))
			if err != nil {
				return err
			}
			svc, err := usecase.NewPredictService(billing.NewEstimator(model), repository.NewMemory(0))
			if err != nil {
				return err
			}
			out, err := svc.PredictBill(c.Context, usecase.PredictInput{Readings: readings})
			if err != nil {
				var ucErr *usecase.Error
				if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorModelUnavailable {
					return cli.Exit("No trained model found. Train the bill model first.", 2)
				}
				return err
			}
			return printPrediction(c.App.Writer, out)
		},
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the energy advisor; type exit, quit or stop to leave",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "fallback-base-url",
				Value:   openai.DefaultBaseURL,
				Usage:   "OpenAI-compatible endpoint for low-confidence questions",
				EnvVars: []string{"FALLBACK_BASE_URL"},
			},
			&cli.StringFlag{
				Name:    "model",
				Value:   "gemini-flash-latest",
				Usage:   "Model used for low-confidence questions",
				EnvVars: []string{"FALLBACK_MODEL"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   8 * time.Second,
				Usage:   "Upper bound on each fallback call",
				EnvVars: []string{"FALLBACK_TIMEOUT"},
			},
		},
		Action: func(c *cli.Context) error {
			src, err := artifact.NewDirSource(c.String("artifacts"))
			if err != nil {
				return err
			}
			classifier, err := artifact.LoadClassifier(c.Context, src, c.String("classifier"))
			if err != nil {
				return err
			}
			table, err := intent.DefaultResponseTable()
			if err != nil {
				return err
			}
			if err := table.Covers(classifier.Classes()); err != nil {
				return err
			}

			var fallback intent.Generator
			if key := os.Getenv("FALLBACK_API_KEY"); key != "" {
				client, err := openai.NewClient(
					openai.WithAPIKey(key),
					openai.WithModel(c.String("model")),
					openai.WithBaseURL(c.String("fallback-base-url")),
				)
				if err != nil {
					return err
				}
				fallback = client
			} else {
				slog.Warn("FALLBACK_API_KEY not set; low-confidence questions get the apology")
			}

			router, err := intent.NewRouter(table, fallback, intent.WithFallbackTimeout(c.Duration("timeout")))
			if err != nil {
				return err
			}
			svc, err := usecase.NewChatService(classifier, router, repository.NewMemory(0), 0, 0)
			if err != nil {
				return err
			}
			return runChat(c.Context, svc, c.App.Reader, c.App.Writer)
		},
	}
}

type responder interface {
	Respond(ctx context.Context, in usecase.RespondInput) (usecase.RespondOutput, error)
}

// runChat reads one message per line until an exit word or end of input.
func runChat(ctx context.Context, svc responder, in io.Reader, out io.Writer) error {
	sessionID := uuid.NewString()
	fmt.Fprintln(out, "Hybrid Energy Chatbot Ready! Type 'exit' to stop.")
	fmt.Fprintln(out)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		if exitWords[strings.ToLower(strings.TrimSpace(line))] {
			return nil
		}

		res, err := svc.Respond(ctx, usecase.RespondInput{SessionID: sessionID, Message: line})
		if err != nil {
			slog.Error("respond failed", "err", err)
			fmt.Fprintln(out, "Bot:", intent.Apology)
			continue
		}
		fmt.Fprintln(out, "Bot:", res.Reply)
	}
}

func readingsFrom(units, bills []float64) ([]domain.HistoricalReading, error) {
	if len(units) != len(bills) {
		return nil, fmt.Errorf("got %d unit readings and %d bills; they must pair up", len(units), len(bills))
	}
	if len(units) > 3 {
		return nil, errors.New("at most three months of readings are used")
	}
	readings := make([]domain.HistoricalReading, len(units))
	for i := range units {
		readings[i] = domain.HistoricalReading{Units: units[i], Bill: bills[i]}
	}
	return readings, nil
}

func printPrediction(w io.Writer, out usecase.PredictOutput) error {
	fmt.Fprintf(w, "Predicted units next month: %d\n", out.PredictedUnits)
	fmt.Fprintf(w, "Predicted bill next month:  %s\n\n", decimal.NewFromFloat(out.PredictedBill).StringFixed(2))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tUNITS\tBILL")
	for _, p := range out.Series {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Month, decimal.NewFromFloat(p.Units).String(), decimal.NewFromFloat(p.Bill).StringFixed(2))
	}
	return tw.Flush()
}
