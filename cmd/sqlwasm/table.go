package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/umputun/sqlwasm/pkg/config"
	"github.com/umputun/sqlwasm/pkg/history"
	"github.com/umputun/sqlwasm/pkg/runner"
)

func newTableWriter(w io.Writer, monochrome bool) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Header = text.FormatDefault
	if !monochrome {
		tw.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
		tw.Style().Color.Footer = text.Colors{text.FgCyan, text.Bold}
	}
	return tw
}

func printRecipes(w io.Writer, recipes []config.Recipe, monochrome bool) {
	tw := newTableWriter(w, monochrome)
	tw.AppendHeader(table.Row{"name", "amalgamation", "extensions", "archives", "description"})
	for _, r := range recipes {
		archives := make([]string, 0, len(r.Archives))
		for _, a := range r.Archives {
			archives = append(archives, a.Name)
		}
		tw.AppendRow(table.Row{r.Name, filepath.Base(r.Amalgamation), len(r.Extensions), fmt.Sprintf("%v", archives), r.Description})
	}
	tw.Render()
}

func printHistory(w io.Writer, runs []history.Run, monochrome bool) {
	tw := newTableWriter(w, monochrome)
	tw.AppendHeader(table.Row{"id", "stage", "recipe", "state", "started", "duration", "artifacts", "error"})
	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		tw.AppendRow(table.Row{id, r.Stage, r.Recipe, stateCell(r.State, monochrome), r.Started.Format(time.DateTime),
			r.Duration.Truncate(time.Millisecond), len(r.Artifacts), r.Error})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "total", len(runs)})
	tw.Render()
}

// stateCell colors known stage states, unknown ones from older databases are shown as is
func stateCell(state string, monochrome bool) string {
	st := runner.States.Parse(state)
	if monochrome || st == nil {
		return state
	}
	switch *st {
	case runner.StateDone:
		return text.FgGreen.Sprint(state)
	case runner.StateFailed:
		return text.FgRed.Sprint(state)
	default:
		return state
	}
}

func printStats(w io.Writer, s runner.Stats, monochrome bool) {
	fmt.Fprintf(w, "%s %s in %v\n", s.Stage, s.State, s.Duration.Truncate(time.Millisecond))
	if len(s.Artifacts) == 0 {
		return
	}
	tw := newTableWriter(w, monochrome)
	tw.AppendHeader(table.Row{"artifact", "size", "sha256"})
	for _, a := range s.Artifacts {
		tw.AppendRow(table.Row{a.Path, a.Size, a.SHA256})
	}
	tw.Render()
}
