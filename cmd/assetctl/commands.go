package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/storefront-io/go-assetkit/assets"
	"github.com/storefront-io/go-assetkit/media"
	"github.com/storefront-io/go-assetkit/picker"
)

func uploadCmd(opts *options) *cobra.Command {
	var replace, appendOnly bool

	cmd := &cobra.Command{
		Use:   "upload <path|pattern|url>...",
		Short: "Validate, compress and upload images into the asset set",
		Long: `Upload resolves local paths, doublestar patterns (photos/**/*.jpg) and
http(s) URLs into a batch, then validates, compresses and uploads it.

By default a banner replaces its image and a gallery appends to its set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if replace && appendOnly {
				return fmt.Errorf("--replace and --append are mutually exclusive")
			}
			mode := assets.ModeDefault
			switch {
			case replace:
				mode = assets.ModeReplace
			case appendOnly:
				mode = assets.ModeAppend
			}

			ctx := cmd.Context()
			w, err := opts.open(ctx, assets.WithProgressFunc(progressLogger(opts)))
			if err != nil {
				return err
			}

			files, err := picker.New(opts.logger).Pick(ctx, args...)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files matched %v", args)
			}

			result, err := w.manager.SubmitBatch(ctx, files, mode)
			var batchErr *assets.BatchError
			if errors.As(err, &batchErr) {
				printErrors(cmd.ErrOrStderr(), batchErr.Result.Errors)
				w.manager.WaitForCleanup()
				return err
			}
			if err != nil {
				return err
			}

			printErrors(cmd.ErrOrStderr(), result.Errors)
			if err := w.close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Summary())
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "Replace the held assets with the batch")
	cmd.Flags().BoolVar(&appendOnly, "append", false, "Append the batch even if the profile replaces by default")

	return cmd
}

func removeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <url>",
		Short: "Remove an asset and delete it from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := w.manager.Remove(args[0]); err != nil {
				return err
			}
			return w.close()
		},
	}
}

func primaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "primary <url>",
		Short: "Mark an asset as the primary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := w.manager.SetPrimary(args[0]); err != nil {
				return err
			}
			return w.close()
		},
	}
}

func reorderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <from> <to>",
		Short: "Move the asset at index from to index to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid from index %q: %w", args[0], err)
			}
			to, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid to index %q: %w", args[1], err)
			}

			w, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := w.manager.Reorder(from, to); err != nil {
				return err
			}
			return w.close()
		},
	}
}

func listCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the asset set of the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readManifest(opts.manifest)
			if err != nil {
				return err
			}
			printAssets(cmd.OutOrStdout(), m.Assets)
			return nil
		},
	}
}

func progressLogger(opts *options) assets.ProgressFunc {
	var current string
	return func(s assets.Session) {
		if !s.Active || s.Current == current {
			return
		}
		current = s.Current
		opts.logger.Debugf("[%3.0f%%] %s", s.Progress, s.Current)
	}
}

func printAssets(out io.Writer, list []media.Asset) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPRIMARY\tURL\tSOURCE\tSIZE")
	for i, a := range list {
		primary := ""
		if a.IsPrimary {
			primary = "*"
		}
		size := "-"
		if a.ByteSize > 0 {
			size = media.HumanSize(a.ByteSize)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, primary, a.URL, a.SourceFileName, size)
	}
	_ = tw.Flush()
}

func printErrors(out io.Writer, errs []string) {
	for _, e := range errs {
		fmt.Fprintf(out, "- %s\n", e)
	}
}
