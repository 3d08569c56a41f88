package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/elements"
	"github.com/zsiec/mediagraph/pipeline"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [factory]",
		Short: "List element factories or describe one",
		Example: `  mediagraph inspect
  mediagraph inspect queue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := elements.NewRegistry()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return listFactories(out, reg)
			}
			f, ok := reg.Find(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", pipeline.ErrUnknownFactory, args[0])
			}
			describeFactory(out, f)
			return nil
		},
	}
}

func listFactories(out io.Writer, reg *pipeline.Registry) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FACTORY\tKLASS\tDESCRIPTION")
	for _, f := range reg.Factories() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, f.Class.Klass, f.Class.Description)
	}
	return tw.Flush()
}

func describeFactory(out io.Writer, f *pipeline.Factory) {
	fmt.Fprintf(out, "Factory Details:\n")
	fmt.Fprintf(out, "  Name:        %s\n", f.Name)
	fmt.Fprintf(out, "  Long name:   %s\n", f.Class.LongName)
	fmt.Fprintf(out, "  Klass:       %s\n", f.Class.Klass)
	fmt.Fprintf(out, "  Description: %s\n", f.Class.Description)

	fmt.Fprintf(out, "\nPad Templates:\n")
	for _, t := range f.Templates {
		fmt.Fprintf(out, "  %s template: '%s'\n", strings.ToUpper(t.Direction.String()), t.NameTemplate)
		fmt.Fprintf(out, "    Availability: %s\n", t.Presence)
		printCaps(out, "    ", t.Caps)
	}

	if len(f.Properties) == 0 {
		return
	}
	fmt.Fprintf(out, "\nProperties:\n")
	for _, p := range f.Properties {
		access := "readable, writable"
		switch {
		case p.ReadOnly:
			access = "readable"
		case p.ReadyOnly:
			access += " in NULL and READY"
		}
		fmt.Fprintf(out, "  %-22s: %s\n", p.Name, p.Blurb)
		fmt.Fprintf(out, "  %-22s  %s, %s, default %v\n", "", p.Kind, access, p.Default)
		if p.Max > p.Min {
			fmt.Fprintf(out, "  %-22s  range %d to %d\n", "", p.Min, p.Max)
		}
		for _, e := range p.Enum {
			fmt.Fprintf(out, "  %-22s  (%d): %s\n", "", e.Value, e.Nick)
		}
	}
}

// printCaps writes caps one field per line.
func printCaps(out io.Writer, indent string, c *caps.Caps) {
	switch {
	case c == nil || c.IsEmpty():
		fmt.Fprintf(out, "%sCapabilities: EMPTY\n", indent)
		return
	case c.IsAny():
		fmt.Fprintf(out, "%sCapabilities: ANY\n", indent)
		return
	}
	fmt.Fprintf(out, "%sCapabilities:\n", indent)
	for _, s := range c.Structures() {
		fmt.Fprintf(out, "%s  %s\n", indent, s.Name())
		s.Each(func(name string, v caps.Value) bool {
			fmt.Fprintf(out, "%s  %15s: %s\n", indent, name, v)
			return true
		})
	}
}
