package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jmerrifield20/logline/pkg/atomic"
)

// printer writes records as JSON lines or as a table, per --format.
type printer struct {
	out   io.Writer
	table *tabwriter.Writer
	rows  int
}

func newPrinter(out io.Writer) *printer {
	p := &printer{out: out}
	if format == "table" {
		p.table = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	}
	return p
}

type recordLine struct {
	Cursor string         `json:"cursor"`
	Atomic *atomic.Atomic `json:"atomic"`
}

func (p *printer) record(cursor string, a *atomic.Atomic) error {
	if p.table == nil {
		return writeJSONLine(p.out, recordLine{Cursor: cursor, Atomic: a})
	}
	if p.rows == 0 {
		fmt.Fprintln(p.table, "CURSOR\tHASH\tTYPE\tTRACE\tACTOR\tACTION\tSTATUS\tCREATED")
	}
	p.rows++
	var actor, action string
	if a.Did != nil {
		actor, action = a.Did.Actor, a.Did.Action
	}
	_, err := fmt.Fprintf(p.table, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		cursor, shortHash(a.CurrHash), a.EntityType, a.TraceID(), actor, action, a.State(), a.CreatedAt())
	return err
}

// pageEnd reports where the next page starts. In JSON mode it is one more
// line; in table mode a trailing note.
func (p *printer) pageEnd(next string, hasMore bool) error {
	if !hasMore {
		return nil
	}
	if p.table == nil {
		return writeJSONLine(p.out, map[string]any{"next_cursor": next, "has_more": true})
	}
	p.flush()
	_, err := fmt.Fprintf(p.out, "\nmore atomics after cursor %s (use --cursor %s)\n", next, next)
	return err
}

func (p *printer) flush() {
	if p.table != nil {
		p.table.Flush()
	}
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func writeJSONLine(w io.Writer, v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
