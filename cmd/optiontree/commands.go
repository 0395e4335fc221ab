package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"optiontree/model"
	"optiontree/service"
	"optiontree/tree"
)

// errDryRun aborts the transaction of a dry-run apply.
var errDryRun = errors.New("dry run")

func newSetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sets",
		Short: "List option sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			sets, err := svc.ListOptionSets(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sets) == 0 {
				fmt.Fprintln(out, "No option sets.")
				return nil
			}
			for _, s := range sets {
				fmt.Fprintf(out, "%s  root=%s  %s\n", s.ID, s.RootNodeID, s.Name)
			}
			return nil
		},
	}
}

func newInitSetCmd(a *app) *cobra.Command {
	var (
		file             string
		levels           []string
		geographic       bool
		allowCoordinates bool
	)
	cmd := &cobra.Command{
		Use:   "init-set <name>",
		Short: "Create an option set, optionally with initial children",
		Long: `Create an option set and its root node.

Examples:
  optiontree init-set Animals
  optiontree init-set Places --levels Country,Region --geographic -f places.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := service.NewOptionSet{
				Name:             args[0],
				Geographic:       geographic,
				AllowCoordinates: allowCoordinates,
			}
			for _, l := range levels {
				in.LevelNames = append(in.LevelNames, map[string]string{"en": strings.TrimSpace(l)})
			}
			if file != "" {
				children, err := readPayload(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				in.Children = children
			}

			db, svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			set, rep, err := svc.CreateOptionSet(cmd.Context(), in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "option set %s\n", set.ID)
			fmt.Fprintf(out, "root node  %s\n", set.RootNodeID)
			if rep.Changed() {
				printReport(out, rep)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file of initial children (- for stdin)")
	cmd.Flags().StringSliceVar(&levels, "levels", nil, "level names, outermost first")
	cmd.Flags().BoolVar(&geographic, "geographic", false, "options carry coordinates")
	cmd.Flags().BoolVar(&allowCoordinates, "allow-coordinates", false, "answers may carry coordinates")
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	var showDiff bool
	cmd := &cobra.Command{
		Use:   "apply <node-id> <file>",
		Short: "Reconcile a node's children against a YAML or JSON payload",
		Long: `Make the children of a node match a desired list.

Entries with an id update that child in place, entries without one are
created, and children missing from the list are removed with their subtrees.
An entry without a children key leaves that child's subtree untouched.

With --diff nothing is written: the tree is printed before and after the
change as a line diff.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node id: %w", err)
			}
			desired, err := readPayload(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}

			db, svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if !showDiff {
				rep, err := svc.Reconcile(cmd.Context(), nodeID, desired)
				if err != nil {
					return err
				}
				printReport(out, rep)
				return nil
			}

			ctx := cmd.Context()
			var before, after string
			var rep tree.Report
			err = db.WithTx(ctx, func(st tree.Store) error {
				node, err := st.FindNode(ctx, nodeID)
				if err != nil {
					return err
				}
				set, err := findSet(ctx, st, node.OptionSetID)
				if err != nil {
					return err
				}
				if before, err = tree.Dump(ctx, st, node, set); err != nil {
					return err
				}
				if rep, err = tree.NewEngine(a.logger(cmd)).Reconcile(ctx, st, node, desired); err != nil {
					return err
				}
				if after, err = tree.Dump(ctx, st, node, set); err != nil {
					return err
				}
				return errDryRun
			})
			if !errors.Is(err, errDryRun) {
				return err
			}
			printReport(out, rep)
			fmt.Fprint(out, renderDiff(before, after))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "show the resulting change without writing it")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <node-id>",
		Short: "Print a node's subtree and statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node id: %w", err)
			}
			db, svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			dump, err := svc.Dump(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			stats, err := svc.Stats(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, dump)
			fmt.Fprintf(out, "\n%d options, %d distinct, max depth %d\n",
				stats.TotalOptions, stats.DistinctOptions, stats.MaxDepth)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var (
		output   string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "export <node-id>",
		Short: "Write a node's serialized subtree as JSON",
		Long: `Serialize the subtree below a node. Subtrees above the huge threshold are
truncated to their first descendants, as the server does.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node id: %w", err)
			}
			db, svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			t, err := svc.Serialize(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(t, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding tree: %w", err)
			}
			data = append(data, '\n')

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if compress {
				enc, err := zstd.NewWriter(w)
				if err != nil {
					return err
				}
				if _, err := enc.Write(data); err != nil {
					enc.Close()
					return err
				}
				return enc.Close()
			}
			_, err = w.Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&compress, "zstd", false, "compress the output with zstd")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <node-id> [option-id...]",
		Short: "Follow a path of option ids and list the options offered next",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node id: %w", err)
			}
			path := make([]uuid.UUID, 0, len(args)-1)
			for _, arg := range args[1:] {
				if arg == "null" {
					path = append(path, uuid.Nil)
					continue
				}
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid option id %q: %w", arg, err)
				}
				path = append(path, id)
			}

			db, svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			node, err := svc.ResolvePath(cmd.Context(), nodeID, path)
			if err != nil {
				return err
			}
			if node == nil {
				fmt.Fprintln(out, "Path does not resolve.")
				return nil
			}
			opts, err := svc.ChildrenForPath(cmd.Context(), node.ID, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "node %s\n", node.ID)
			for _, o := range opts {
				fmt.Fprintf(out, "  %s  %s\n", o.ID, o.Name())
			}
			return nil
		},
	}
}

func newFindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find <node-id> <glob>",
		Short: "Find options below a node by name path",
		Long: `Match a glob against the lowercased name paths below a node.

Examples:
  optiontree find $ROOT 'canada/*'
  optiontree find $ROOT '**/ott*'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node id: %w", err)
			}
			db, svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			matches, err := svc.Search(cmd.Context(), nodeID, args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range matches {
				fmt.Fprintf(out, "%s  %s\n", m.Node.ID, m.Path)
			}
			return nil
		},
	}
}

func newDestroyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <node-id>",
		Short: "Remove a node and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node id: %w", err)
			}
			db, svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := svc.DestroyNode(cmd.Context(), nodeID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", nodeID)
			return nil
		},
	}
}

func newAnswerCmd(a *app) *cobra.Command {
	var choice bool
	cmd := &cobra.Command{
		Use:   "answer <option-id>",
		Short: "Record an answer or choice that references an option",
		Long: `Record a response that selected an option. Nodes whose option has
responses can no longer be removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			optionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid option id: %w", err)
			}
			db, _, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := db.FindOption(cmd.Context(), optionID); err != nil {
				return err
			}
			if choice {
				err = db.RecordChoice(cmd.Context(), optionID)
			} else {
				err = db.RecordAnswer(cmd.Context(), optionID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded response for %s\n", optionID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&choice, "choice", false, "record a multi-select choice instead of an answer")
	return cmd
}

func findSet(ctx context.Context, st tree.Store, id uuid.UUID) (*model.OptionSet, error) {
	set, err := st.FindOptionSet(ctx, id)
	if err != nil && tree.KindOf(err) != tree.ErrNotFound {
		return nil, err
	}
	return set, nil
}

func printReport(w io.Writer, rep tree.Report) {
	if !rep.Changed() {
		fmt.Fprintln(w, "No changes.")
		return
	}
	var parts []string
	if rep.RanksChanged {
		parts = append(parts, "ranks changed")
	}
	if rep.OptionsAdded {
		parts = append(parts, "options added")
	}
	if rep.OptionsRemoved {
		parts = append(parts, "options removed")
	}
	fmt.Fprintln(w, strings.Join(parts, ", "))
}
