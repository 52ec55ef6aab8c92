package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vyuha/vyuha-explorer/internal/client"
	"github.com/vyuha/vyuha-explorer/internal/expand"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/layout"
	"github.com/vyuha/vyuha-explorer/internal/session"
	"github.com/vyuha/vyuha-explorer/internal/view"
)

type exploreOptions struct {
	server   string
	seeds    []string
	search   string
	semantic bool
	expand   []string
	layout   string
	types    []string
	query    string
	limit    int
	edges    bool
}

func newExploreCmd(a *app) *cobra.Command {
	o := &exploreOptions{}
	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Explore a remote graph from the terminal",
		Long: "Runs a headless exploration session against a vyuha server: loads seeds,\n" +
			"expands the requested nodes, applies the filter and prints the visible graph.",
		Example: "  vyuha explore --seed vessel-001 --expand mission-004 --layout force\n" +
			"  vyuha explore --search \"north patrol\" --types vessel,mission --query aurora",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			ccfg := cfg.Expansion.ClientConfig()
			switch {
			case cmd.Flags().Changed("server"):
				ccfg.BaseURL = o.server
			case ccfg.BaseURL == "":
				ccfg.BaseURL = o.server
			}
			cl, err := client.New(ccfg)
			if err != nil {
				return err
			}

			sessCfg, err := cfg.SessionConfig()
			if err != nil {
				return err
			}
			if o.layout != "" {
				if sessCfg.Layout, err = layout.ParseKind(o.layout); err != nil {
					return err
				}
			}
			sessCfg.IdleTTL = 0
			if cmd.Flags().Changed("semantic") {
				sessCfg.Expand.IncludeSemantic = o.semantic
			}
			if o.limit > 0 {
				sessCfg.Expand.Limit = o.limit
			}
			return runExplore(cmd.Context(), cmd.OutOrStdout(), cl, sessCfg, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.server, "server", "http://localhost:8080", "vyuha server base URL")
	f.StringSliceVar(&o.seeds, "seed", nil, "seed entity id (repeatable)")
	f.StringVar(&o.search, "search", "", "seed with the top search hits for this text")
	f.BoolVar(&o.semantic, "semantic", false, "include semantically similar neighbours")
	f.StringSliceVar(&o.expand, "expand", nil, "node id to expand after loading (repeatable, in order)")
	f.StringVar(&o.layout, "layout", "", "layout mode: hierarchical, force or circular")
	f.StringSliceVar(&o.types, "types", nil, "only show these entity types")
	f.StringVar(&o.query, "query", "", "highlight nodes whose label or id contains this text")
	f.IntVar(&o.limit, "limit", 0, "max neighbours per expansion")
	f.BoolVar(&o.edges, "edges", true, "print the edge table")
	return cmd
}

func runExplore(ctx context.Context, out io.Writer, cl *client.Client, cfg session.Config, o *exploreOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	seeds := o.seeds
	if o.search != "" {
		hits, err := cl.Search(ctx, o.search, 5, o.semantic)
		if err != nil {
			return fmt.Errorf("search %q: %w", o.search, err)
		}
		for _, h := range hits {
			seeds = append(seeds, h.Node.ID)
		}
	}
	if len(seeds) == 0 {
		return errors.New("explore: no seeds (use --seed or --search)")
	}

	sess := session.New("cli", cl, cfg, nil, nil)
	defer sess.Close()
	opts := expand.Options{IncludeSemantic: cfg.Expand.IncludeSemantic}

	res, err := sess.Load(ctx, seeds, opts)
	if err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}
	printResult(out, "load", res)

	for _, id := range o.expand {
		res, err := sess.Expand(ctx, id, opts)
		if err != nil {
			if errors.Is(err, session.ErrNodeNotFound) {
				fmt.Fprintf(out, "  %s %s is not in the view\n", warn.Sprint("⚠"), id)
				continue
			}
			return fmt.Errorf("expand %q: %w", id, err)
		}
		printResult(out, "expand "+id, res)
	}

	filter := view.DefaultFilter().WithTypes(o.types...)
	filter.Query = o.query
	if err := sess.SetFilter(filter); err != nil {
		return err
	}

	printView(out, sess.View(), o.edges)

	if stats, err := cl.Stats(ctx); err == nil {
		fmt.Fprintf(out, "\n  %s\n", subtle.Sprintf("upstream graph: %d entities, %d links",
			stats.UniqueNodeCount, stats.TotalLinkCount))
	}
	return nil
}

func printResult(out io.Writer, what string, res expand.Result) {
	icon := good.Sprint("✓")
	if res.Status != expand.StatusMerged {
		icon = subtle.Sprint("·")
	}
	fmt.Fprintf(out, "  %s %-24s %s\n", icon, what,
		subtle.Sprintf("%s  +%d nodes  +%d edges", res.Status, res.AddedNodes, res.AddedEdges))
}

func printView(out io.Writer, v session.View, withEdges bool) {
	fmt.Fprintf(out, "\n%s %s\n\n", brand.Sprint("vyuha"),
		subtle.Sprintf("%s layout · %d/%d nodes · %d/%d edges visible",
			v.Layout, len(v.Visible.Nodes), v.Total.Nodes, len(v.Visible.Edges), v.Total.Edges))

	types := make([]string, len(v.Visible.Legend))
	for i, l := range v.Visible.Legend {
		types[i] = l.EntityType
	}
	legend := make([]string, 0, len(v.Visible.Legend))
	for _, l := range v.Visible.Legend {
		legend = append(legend, colorFor(types, l.EntityType).Sprintf("■ %s %d/%d", l.EntityType, l.Visible, l.Total))
	}
	if len(legend) > 0 {
		fmt.Fprintf(out, "  %s\n\n", strings.Join(legend, "   "))
	}

	headers := []string{"ID", "TYPE", "LABEL", "X", "Y", ""}
	var plain, styled [][]string
	for _, n := range v.Visible.Nodes {
		marks := nodeMarks(n)
		row := []string{n.ID, n.EntityType, n.DisplayLabel(),
			fmt.Sprintf("%.0f", n.Position.X), fmt.Sprintf("%.0f", n.Position.Y), marks}
		plain = append(plain, row)

		label := row[2]
		if n.IsHighlighted {
			label = info.Sprint(label)
		}
		styled = append(styled, []string{n.ID, colorFor(types, n.EntityType).Sprint(n.EntityType),
			label, row[3], row[4], warn.Sprint(marks)})
	}
	printTable(out, headers, plain, styled)

	if !withEdges {
		return
	}
	fmt.Fprintln(out)
	headers = []string{"EDGE", "SOURCE", "TARGET", "KIND", "LABEL"}
	plain, styled = nil, nil
	for _, e := range v.Visible.Edges {
		label := e.Label
		if e.Kind == graph.EdgeSemantic && e.Score > 0 {
			label = fmt.Sprintf("%s %.2f", label, e.Score)
		}
		row := []string{e.ID, e.Source, e.Target, string(e.Kind), label}
		plain = append(plain, row)
		kind := row[3]
		if e.Kind == graph.EdgeSemantic {
			kind = info.Sprint(kind)
		}
		styled = append(styled, []string{row[0], row[1], row[2], kind, row[4]})
	}
	printTable(out, headers, plain, styled)
}

// nodeMarks renders seed, pin and highlight flags as a short suffix.
func nodeMarks(n graph.Node) string {
	var b strings.Builder
	if n.IsSeed {
		b.WriteString("★")
	}
	if n.Pinned {
		b.WriteString("⌖")
	}
	if n.IsHighlighted {
		b.WriteString("◆")
	}
	return b.String()
}
