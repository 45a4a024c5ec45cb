package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/umputun/sqlwasm/pkg/config"
	"github.com/umputun/sqlwasm/pkg/executor"
	"github.com/umputun/sqlwasm/pkg/fetch"
	"github.com/umputun/sqlwasm/pkg/history"
	"github.com/umputun/sqlwasm/pkg/runner"
)

type options struct {
	Recipe     string `short:"r" long:"recipe" env:"SQLWASM_RECIPE" description:"built-in recipe name" default:"sqljs-1.7.0"`
	RecipeFile string `short:"f" long:"recipe-file" env:"SQLWASM_RECIPE_FILE" description:"recipe file, yaml or toml, overrides --recipe"`
	Src        string `long:"src" env:"SQLWASM_SRC" description:"source tree" default:"src"`
	History    string `long:"history" env:"SQLWASM_HISTORY" description:"history database, disabled if not set"`

	ConfigureCmd struct {
		Concurrent int           `short:"c" long:"concurrent" description:"concurrent downloads" default:"1"`
		Timeout    time.Duration `long:"timeout" env:"SQLWASM_TIMEOUT" description:"http timeout, no timeout if 0" default:"0s"`
		NoProgress bool          `long:"no-progress" description:"hide download progress"`
	} `command:"configure" description:"download sources and make the source tree"`

	BuildCmd struct {
		Out        string `long:"out" env:"SQLWASM_OUT" description:"intermediate output directory" default:"out"`
		Dist       string `long:"dist" env:"SQLWASM_DIST" description:"artifacts directory" default:"dist"`
		CC         string `long:"cc" env:"SQLWASM_CC" description:"compiler front end, overrides recipe"`
		Concurrent int    `short:"c" long:"concurrent" description:"concurrent compiles" default:"1"`
		NoVerify   bool   `long:"no-verify" description:"skip wasm module verification"`
	} `command:"build" description:"compile the source tree into dist"`

	RecipesCmd struct{} `command:"recipes" description:"list built-in recipes"`

	HistoryCmd struct {
		Limit int `long:"limit" description:"max runs to show" default:"10"`
	} `command:"history" description:"show recent runs"`

	Version bool `long:"version" description:"show version"`

	Dry     bool `long:"dry" description:"dry run, compiler commands are printed, not executed"`
	Verbose bool `short:"v" long:"verbose" description:"verbose mode"`
	Dbg     bool `long:"dbg" description:"debug mode"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable colorized output"`
}

var revision = "latest"

func main() {
	fmt.Printf("sqlwasm %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	p.SubcommandsOptional = true
	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}
	if opts.Version {
		os.Exit(0) // already printed
	}
	if p.Active == nil {
		p.WriteHelp(os.Stdout)
		os.Exit(1)
	}
	color.NoColor = color.NoColor || opts.NoColor
	setupLog(opts.Dbg, opts.Verbose)

	if err := run(p.Active.Name, opts); err != nil {
		if opts.Dbg {
			log.Panicf("[ERROR] %v", err)
		}
		fmt.Printf("failed, %v\n", formatErrorString(err.Error()))
		os.Exit(1)
	}
}

func run(command string, opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "recipes":
		return listRecipes(os.Stdout, opts.NoColor)
	case "history":
		return showHistory(ctx, os.Stdout, opts)
	case "configure", "build":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	if opts.Dry {
		if opts.Dbg {
			log.Printf("[WARN] dry run, compiler commands will be printed and not executed")
		} else {
			msg := color.New(color.FgHiRed).SprintfFunc()("dry run - compiler commands will be printed and not executed\n")
			fmt.Print(msg)
		}
	}

	rcp, err := config.New(opts.Recipe, opts.RecipeFile, &config.Overrides{CC: opts.BuildCmd.CC})
	if err != nil {
		return fmt.Errorf("can't load recipe: %w", err)
	}

	logs := executor.MakeLogs(opts.Verbose, opts.NoColor)
	var exec executor.Interface = executor.NewLocal(logs)
	if opts.Dry {
		exec = executor.NewDry(logs)
	}

	var stats runner.Stats
	switch command {
	case "configure":
		c := runner.Configure{
			Recipe: rcp,
			Fetcher: fetch.New(fetch.Opts{
				Timeout:  opts.ConfigureCmd.Timeout,
				Progress: !opts.ConfigureCmd.NoProgress && term.IsTerminal(int(os.Stderr.Fd())),
			}),
			Exec:        exec,
			Concurrency: opts.ConfigureCmd.Concurrent,
		}
		stats, err = c.Run(ctx, opts.Src)
	case "build":
		b := runner.Build{
			Recipe:      rcp,
			Exec:        exec,
			Concurrency: opts.BuildCmd.Concurrent,
			Verify:      !opts.BuildCmd.NoVerify,
			Dry:         opts.Dry,
		}
		stats, err = b.Run(ctx, opts.Src, opts.BuildCmd.Out, opts.BuildCmd.Dist)
	}

	if herr := recordRun(context.WithoutCancel(ctx), opts.History, rcp.Name, stats, err); herr != nil {
		log.Printf("[WARN] can't record run: %v", herr)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	printStats(os.Stdout, stats, opts.NoColor)
	return nil
}

// recordRun saves the finished stage into the history database, if enabled
func recordRun(ctx context.Context, dbPath, recipe string, s runner.Stats, runErr error) error {
	if dbPath == "" {
		return nil
	}
	store, err := history.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer store.Close() // nolint

	r := history.Run{Stage: s.Stage, Recipe: recipe, State: s.State.String(), Started: s.Started, Duration: s.Duration}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	for _, a := range s.Artifacts {
		r.Artifacts = append(r.Artifacts, history.Artifact{Name: filepath.Base(a.Path), Size: a.Size, SHA256: a.SHA256})
	}
	id, err := store.Record(ctx, r)
	if err != nil {
		return err
	}
	log.Printf("[DEBUG] recorded %s run %s", s.Stage, id)
	return nil
}

func showHistory(ctx context.Context, w io.Writer, opts options) error {
	if opts.History == "" {
		return errors.New("history database is not set, use --history")
	}
	store, err := history.Open(ctx, opts.History)
	if err != nil {
		return fmt.Errorf("can't open history: %w", err)
	}
	defer store.Close() // nolint

	runs, err := store.Recent(ctx, opts.HistoryCmd.Limit)
	if err != nil {
		return fmt.Errorf("can't load history: %w", err)
	}
	printHistory(w, runs, opts.NoColor)
	return nil
}

func listRecipes(w io.Writer, monochrome bool) error {
	recipes, err := config.Builtin()
	if err != nil {
		return fmt.Errorf("can't load built-in recipes: %w", err)
	}
	printRecipes(w, recipes, monochrome)
	return nil
}

func formatErrorString(input string) string {
	headerRe := regexp.MustCompile(`(.*: \d+ errors? occurred:)`)
	headerMatch := headerRe.FindStringSubmatch(input)
	if len(headerMatch) == 0 {
		return input
	}

	errorsRe := regexp.MustCompile(`(?m)^\s*\* (.+)$`)
	errorsMatches := errorsRe.FindAllStringSubmatch(input, -1)

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(headerMatch[1]) + "\n")
	for i, match := range errorsMatches {
		sb.WriteString(fmt.Sprintf("   [%d] %s\n", i, strings.TrimSpace(match[1])))
	}
	return sb.String()
}

func setupLog(dbg, verbose bool) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)} // default to discard
	if verbose {
		logOpts = []lgr.Option{lgr.Msec, lgr.LevelBraces}
	}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
