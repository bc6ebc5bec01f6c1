// Command contactgraph-synth writes synthetic person-trait and contact
// network files, and samples rows from existing network files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/synth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

type common struct {
	seed uint64
	out  string
}

func newRootCmd() *cobra.Command {
	var c common
	root := &cobra.Command{
		Use:           "contactgraph-synth",
		Short:         "Generate or sample synthetic contact-network inputs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Uint64Var(&c.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	root.PersistentFlags().StringVarP(&c.out, "out", "o", "-", "output file, - for stdout")

	root.AddCommand(newPersonsCmd(&c), newContactsCmd(&c), newSampleCmd(&c))
	return root
}

func logger() logging.Logger {
	return logging.New(logging.Options{
		Level:  logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Output: os.Stderr,
		Name:   "contactgraph-synth",
	})
}

// withOutput runs fn against the output file, removing it on failure.
func withOutput(path string, fn func(io.Writer) error) error {
	if path == "-" || path == "" {
		return fn(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = fn(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

func newPersonsCmd(c *common) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "gen-persons",
		Short: "Write a person-trait file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g := synth.New(c.seed, logger())
			return withOutput(c.out, func(w io.Writer) error {
				return g.WritePersons(cmd.Context(), w, n)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "people", "n", 1000, "number of persons")
	return cmd
}

func newContactsCmd(c *common) *cobra.Command {
	var edges, population int
	cmd := &cobra.Command{
		Use:   "gen-contacts",
		Short: "Write a contact network file of symmetric edge pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g := synth.New(c.seed, logger())
			return withOutput(c.out, func(w io.Writer) error {
				return g.WriteContacts(cmd.Context(), w, edges, population)
			})
		},
	}
	cmd.Flags().IntVarP(&edges, "edges", "e", 10000, "number of directed edges")
	cmd.Flags().IntVarP(&population, "people", "n", 1000, "population the endpoints are drawn from")
	return cmd
}

func newSampleCmd(c *common) *cobra.Command {
	var k, headerRows int
	cmd := &cobra.Command{
		Use:   "sample <network-file>",
		Short: "Draw rows with replacement from a contact network file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			g := synth.New(c.seed, logger())
			return withOutput(c.out, func(w io.Writer) error {
				return g.Sample(args[0], in, w, headerRows, k)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "rows", "k", 1000000, "rows to draw")
	cmd.Flags().IntVar(&headerRows, "header-rows", 2, "header rows in the input; the last one is kept")
	return cmd
}
