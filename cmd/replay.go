// Package cmd provides command-line interface commands for argus.
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/ingest"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// maxLineBytes bounds a single replay record line.
const maxLineBytes = 1 << 20

var (
	outputJSON bool
	noColor    bool
)

// alertPrinter collects admitted alerts during replay and prints them as
// they fire. It satisfies the engine's publisher contract.
type alertPrinter struct {
	json    bool
	emitted int
}

func (p *alertPrinter) PublishAlert(alert *core.Alert) {
	p.emitted++
	if p.json {
		data, err := json.Marshal(alert)
		if err != nil {
			errorColor.Fprintf(os.Stderr, "failed to marshal alert: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	sevColor := warningColor
	if alert.Severity == core.SeverityHigh {
		sevColor = errorColor
	}
	sevColor.Printf("[%s] ", alert.Severity)
	fmt.Printf("%s  %s\n", alert.Timestamp.Format(time.RFC3339), alert.Description)
	infoColor.Printf("        rule=%s source=%s", alert.RuleID, alert.Source)
	if alert.IP != "" {
		infoColor.Printf(" ip=%s", alert.IP)
	}
	fmt.Println()
}

func (p *alertPrinter) PublishEvent(event *core.Event) {}

// NewReplayCmd creates the replay command: stream a JSONL capture through
// the full correlation pipeline without starting the server.
func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <file.jsonl>",
		Short: "Replay a JSONL log capture through the correlation rules",
		Long: `Replay reads one JSON record per line, normalizes each record, and runs
it through the same windowing, rule, and deduplication pipeline the server
uses. Admitted alerts are printed as they fire.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args[0])
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print alerts as JSON lines")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

func runReplay(path string) error {
	if noColor {
		color.NoColor = true
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}
	defer file.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zap.NewNop().Sugar()
	windows := detect.NewWindowStore(ctx, cfg.Windows.MaxKeysPerRule, cfg.Windows.SweepInterval, logger)
	defer windows.Stop()

	rules := detect.BuiltinRules(
		cfg.Rules.BruteForce.Window,
		cfg.Rules.BruteForce.Threshold,
		cfg.Rules.PortScan.Window,
		cfg.Rules.PortScan.Threshold,
		cfg.Rules.PatternCooldown,
	)
	dedup := detect.NewDeduplicator(cfg.Dedup.MaxEntries, time.Hour, logger)
	printer := &alertPrinter{json: outputJSON}
	engine := detect.NewEngine(ctx, detect.Options{Workers: 1, QueueSize: 1},
		rules, windows, dedup, nil, printer, nil, logger)

	if !outputJSON {
		headerColor.Printf("Replaying %s\n\n", path)
	}

	var processed, malformed int
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := ingest.ParseJSON(line)
		if err != nil {
			malformed++
			if !outputJSON {
				warningColor.Fprintf(os.Stderr, "skipping malformed record: %v\n", err)
			}
			continue
		}
		engine.Process(event)
		processed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read replay file: %w", err)
	}

	if !outputJSON {
		fmt.Println()
		headerColor.Println("Replay complete")
		fmt.Printf("  events processed: %d\n", processed)
		fmt.Printf("  malformed records: %d\n", malformed)
		fmt.Printf("  alerts emitted: %d\n", printer.emitted)
	}
	return nil
}
