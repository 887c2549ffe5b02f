package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/spend-tracker/internal/inference"
	"github.com/zombor/spend-tracker/internal/metrics"
	"github.com/zombor/spend-tracker/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("SPEND_TRACKER")); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			os.Exit(0)
		}
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			os.Exit(1)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *ff.Command {
	cfg := &config{}

	rootFlags := ff.NewFlagSet("spend-tracker")
	cfg.registerStoreFlags(rootFlags)

	root := &ff.Command{
		Name:      "spend-tracker",
		Usage:     "spend-tracker [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "classify receipts into spending categories",
		Flags:     rootFlags,
	}

	processFlags := ff.NewFlagSet("process").SetParent(rootFlags)
	cfg.registerProcessFlags(processFlags)
	process := &ff.Command{
		Name:      "process",
		Usage:     "spend-tracker process [FLAGS] <FILE> ...",
		ShortHelp: "analyze, classify and store receipt files",
		Flags:     processFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runProcess(ctx, cfg, args)
		},
	}

	summaryFlags := ff.NewFlagSet("summary").SetParent(rootFlags)
	period := summaryFlags.StringLong("period", receipt.PeriodWeek, "summary period: 7, 30, month or year")
	summary := &ff.Command{
		Name:      "summary",
		Usage:     "spend-tracker summary [FLAGS]",
		ShortHelp: "total spend per category over a period",
		Flags:     summaryFlags,
		Exec: func(ctx context.Context, args []string) error {
			return withService(ctx, cfg, func(svc *receipt.Service) error {
				s, err := svc.Summarize(ctx, cfg.userID, *period)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}

	listFlags := ff.NewFlagSet("list").SetParent(rootFlags)
	from := listFlags.StringLong("from", "", "first receipt date, YYYY-MM-DD")
	to := listFlags.StringLong("to", "", "last receipt date, YYYY-MM-DD")
	list := &ff.Command{
		Name:      "list",
		Usage:     "spend-tracker list [FLAGS]",
		ShortHelp: "list stored receipts",
		Flags:     listFlags,
		Exec: func(ctx context.Context, args []string) error {
			start, err := parseBound(*from)
			if err != nil {
				return err
			}
			end, err := parseBound(*to)
			if err != nil {
				return err
			}
			return withService(ctx, cfg, func(svc *receipt.Service) error {
				receipts, err := svc.ListReceipts(ctx, cfg.userID, start, end)
				if err != nil {
					return err
				}
				return printJSON(receipts)
			})
		},
	}

	showFlags := ff.NewFlagSet("show").SetParent(rootFlags)
	output := showFlags.StringLong("output", "", "write the original receipt file to this path")
	show := &ff.Command{
		Name:      "show",
		Usage:     "spend-tracker show [FLAGS] <ID>",
		ShortHelp: "print a stored receipt",
		Flags:     showFlags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("show requires exactly one receipt ID")
			}
			return withService(ctx, cfg, func(svc *receipt.Service) error {
				r, err := svc.GetReceipt(ctx, args[0])
				if err != nil {
					return err
				}
				if *output != "" {
					data, _, err := svc.GetReceiptFile(ctx, args[0])
					if err != nil {
						return err
					}
					if err := os.WriteFile(*output, data, 0644); err != nil {
						return fmt.Errorf("writing receipt file: %w", err)
					}
				}
				return printJSON(r)
			})
		},
	}

	deleteFlags := ff.NewFlagSet("delete").SetParent(rootFlags)
	del := &ff.Command{
		Name:      "delete",
		Usage:     "spend-tracker delete <ID> ...",
		ShortHelp: "delete stored receipts and their files",
		Flags:     deleteFlags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("delete requires at least one receipt ID")
			}
			return withService(ctx, cfg, func(svc *receipt.Service) error {
				for _, id := range args {
					if err := svc.DeleteReceipt(ctx, id); err != nil {
						return err
					}
					slog.Info("Deleted receipt", "id", id)
				}
				return nil
			})
		},
	}

	root.Subcommands = []*ff.Command{process, summary, list, show, del}
	return root
}

func runProcess(ctx context.Context, cfg *config, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("process requires at least one file")
	}

	m := metrics.NewPipeline()
	err := withProcessingService(ctx, cfg, m, func(svc *receipt.Service) error {
		return processAll(files, func(path string) (int, error) {
			return processFile(ctx, svc, cfg, path)
		})
	})

	if cfg.metricsFile != "" {
		if werr := m.WriteTextfile(cfg.metricsFile); werr != nil {
			slog.Warn("Failed to write metrics", "path", cfg.metricsFile, "error", werr)
		}
	}
	return err
}

// processAll runs process over each file and joins the failures. A file
// saved with problems is not a failure. Once the inference circuit opens
// the remaining files are skipped.
func processAll(files []string, process func(path string) (int, error)) error {
	var failed []error
	for i, path := range files {
		saved, err := process(path)
		if err == nil {
			continue
		}

		if saved > 0 {
			slog.Warn("Receipt saved with problems", "file", path, "error", err)
		} else {
			slog.Error("Failed to process receipt", "file", path, "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", path, err))
		}

		if inference.IsCircuitOpen(err) {
			skipped := files[i+1:]
			slog.Error("Inference circuit open, skipping remaining files", "skipped", len(skipped))
			for _, rest := range skipped {
				failed = append(failed, fmt.Errorf("%s: skipped: %w", rest, err))
			}
			break
		}
	}
	return errors.Join(failed...)
}

// processFile returns how many receipts were saved alongside any error
func processFile(ctx context.Context, svc *receipt.Service, cfg *config, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading file: %w", err)
	}

	contentType := cfg.contentType
	if contentType == "" {
		contentType = detectContentType(path, data)
	}

	slog.Info("Processing receipt", "file", path, "content_type", contentType, "size", len(data))
	receipts, err := svc.ProcessReceipt(ctx, cfg.userID, path, data, contentType)
	if len(receipts) == 0 {
		return 0, err
	}
	if perr := printJSON(receipts); perr != nil {
		return len(receipts), errors.Join(err, perr)
	}
	return len(receipts), err
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(receipt.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
