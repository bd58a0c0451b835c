// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// datasync moves the food images dataset and trained models between buckets and the local disk, and offers
// a few tools to prepare and inspect the local dataset.
//
// The object store is configured with --config (YAML) or FOODCLS_ environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/foodclassifier/internal/config"
	"github.com/gomlx/foodclassifier/internal/datasync"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var configPath string

// newRootCmd creates the datasync command with all its subcommands.
func newRootCmd() *cobra.Command {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)

	root := &cobra.Command{
		Use:           "datasync",
		Short:         "Synchronize the food images dataset and models with object storage buckets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML file with the storage configuration.")
	root.PersistentFlags().AddGoFlagSet(klogFlags)
	root.AddCommand(downloadCmd(), uploadCmd(), listCmd(), splitCmd(), statsCmd(), sampleCmd())
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		klog.Errorf("datasync failed (%s error): %+v", runerr.Kind(err), err)
		klog.Flush()
		os.Exit(1)
	}
}

// withStore opens the configured object store, calls fn and closes it.
func withStore(ctx context.Context, fn func(store storage.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := datasync.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			klog.Warningf("closing object store: %v", err)
		}
	}()
	return fn(store)
}

func downloadCmd() *cobra.Command {
	var noProgress bool
	cmd := &cobra.Command{
		Use:   "download <bucket> <local_root>",
		Short: "Download every object of the bucket under local_root, skipping the files already there.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store storage.Store) error {
				var opts []datasync.Option
				if !noProgress {
					opts = append(opts, datasync.WithProgress(os.Stderr))
				}
				stats, err := datasync.DownloadDirectory(cmd.Context(), store, args[0], args[1], opts...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noProgress, "no_progress", false, "Don't display a progress bar.")
	return cmd
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <bucket> <local_path> <remote_name>",
		Short: "Upload a local file to the bucket, replacing any object with the same name.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store storage.Store) error {
				if err := datasync.UploadFile(cmd.Context(), store, args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "File %s uploaded to %s.\n", args[1], args[2])
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <bucket>",
		Short: "List the objects of the bucket.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store storage.Store) error {
				out := cmd.OutOrStdout()
				for obj, err := range datasync.ListObjects(cmd.Context(), store, args[0]) {
					if err != nil {
						return err
					}
					updated := ""
					if !obj.Updated.IsZero() {
						updated = obj.Updated.Format(time.DateTime)
					}
					fmt.Fprintf(out, "%10s  %19s  %s\n", humanize.IBytes(uint64(obj.Size)), updated, obj.Key)
				}
				return nil
			})
		},
	}
}

func splitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split <data_path> [<class_index> [<class_names>...]]",
		Short: "Move images named <class_index>_*.jpg into class sub-directories.",
		Long: "Move images named <class_index>_*.jpg into the sub-directory of their class.\n" +
			"Without a class index every class is split. Without class names the food classes are used.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPath := args[0]
			classNames := datasync.FoodClasses
			if len(args) > 2 {
				classNames = args[2:]
			}
			var moved int
			var err error
			if len(args) == 1 {
				moved, err = datasync.SplitAllByClassPrefix(dataPath, classNames)
			} else {
				classIndex, convErr := strconv.Atoi(args[1])
				if convErr != nil {
					return errors.Wrapf(runerr.ErrConfig, "invalid class index %q", args[1])
				}
				moved, err = datasync.SplitByClassPrefix(dataPath, classIndex, classNames)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d images moved.\n", moved)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <data_path>",
		Short: "Print the mean and median image width and height under data_path.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := datasync.ImageSizeStats(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func sampleCmd() *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "sample <data_path> <out.png>",
		Short: "Render a grid of random images under data_path, labeled with their class, to a PNG file.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			rng := rand.New(rand.NewPCG(seed, seed>>1))
			if err := datasync.VisualizeSample(args[0], args[1], rng); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample saved to %s.\n", args[1])
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed. If 0 it is taken from the clock.")
	return cmd
}
