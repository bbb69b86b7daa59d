// Command erlangc evaluates one M/M/c queue and prints its steady-state
// metrics.
//
//	erlangc -interarrival 4 -service 3 [-servers 2] [-format text|json|prom]
//
// Exit status is 0 on success, 2 for invalid input and 3 when the queue is
// unstable (ρ ≥ 1).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/queuelab/queuelab/pkg/erlangc"
	"github.com/queuelab/queuelab/server/internal/exposition"
	"github.com/queuelab/queuelab/server/internal/form"
)

// Exit codes.
const (
	exitOK          = 0
	exitUsage       = 2
	exitInstability = 3
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatProm = "prom"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("erlangc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	interarrival := fs.String("interarrival", "", "mean interarrival time, minutes")
	service := fs.String("service", "", "mean service time, minutes")
	servers := fs.String("servers", strconv.Itoa(form.DefaultServers), "number of servers c")
	format := fs.String("format", formatText, "output format: text | json | prom")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	switch *format {
	case formatText, formatJSON, formatProm:
	default:
		fmt.Fprintf(stderr, "erlangc: unknown format %q: want text|json|prom\n", *format)
		return exitUsage
	}

	in, err := form.Parse(*interarrival, *service, *servers, form.Defaults{})
	if err != nil {
		return fail(stderr, err)
	}
	m, err := erlangc.Evaluate(in)
	if err != nil {
		return fail(stderr, err)
	}

	switch *format {
	case formatJSON:
		err = writeJSON(stdout, in, m)
	case formatProm:
		err = exposition.Write(stdout, exposition.Families(m, nil))
	default:
		err = writeText(stdout, m)
	}
	if err != nil {
		fmt.Fprintf(stderr, "erlangc: %v\n", err)
		return 1
	}
	return exitOK
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "erlangc: %v\n", err)
	if erlangc.Kind(err) == erlangc.KindInstability {
		return exitInstability
	}
	return exitUsage
}

func writeJSON(w io.Writer, in erlangc.Input, m erlangc.Metrics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Input   erlangc.Input   `json:"input"`
		Metrics erlangc.Metrics `json:"metrics"`
		Steps   []erlangc.Step  `json:"steps"`
	}{in, m, m.Steps()})
}

func writeText(w io.Writer, m erlangc.Metrics) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range m.Steps() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t= %.4f\n", s.Symbol, s.Label, s.Formula, s.Value)
	}
	return tw.Flush()
}
