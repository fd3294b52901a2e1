package main

import (
	"context"
	"fmt"
	"strings"

	goenv "github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/storefront-io/go-assetkit/assetconf"
	"github.com/storefront-io/go-assetkit/assets"
	"github.com/storefront-io/go-assetkit/assets/network"
)

const metricsNamespace = "assetctl"

type options struct {
	profile      string
	manifest     string
	store        string
	endpoint     string
	token        string
	metricsFile  string
	verbose      bool
	envRepo      goenv.Repository
	logger       log.Logger
	registry     *prometheus.Registry
	newStoreFunc func(ctx context.Context, props *assetconf.Properties) (network.Store, error)
}

func newRootCmd(envRepo goenv.Repository) *cobra.Command {
	opts := &options{
		envRepo:  envRepo,
		logger:   log.NewLogger(),
		registry: prometheus.NewRegistry(),
	}

	rootCmd := &cobra.Command{
		Use:   "assetctl",
		Short: "Upload and curate the images of a storefront entity",
		Long: `assetctl keeps the image set of one entity (a banner or a product gallery)
in a local manifest file and uploads new images to the configured store.

Configuration is read from ASSET_* environment variables, flags win over them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logger.EnableDebugLog(opts.verbose)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.profile, "profile", "p", "", "Upload context: banner or gallery (default from ASSET_PROFILE, then gallery)")
	flags.StringVarP(&opts.manifest, "manifest", "m", "assets.yaml", "Manifest file holding the asset set")
	flags.StringVar(&opts.store, "store", "", "Remote store: http or s3 (overrides ASSET_STORE)")
	flags.StringVar(&opts.endpoint, "endpoint", "", "Upload endpoint of the http store (overrides ASSET_UPLOAD_ENDPOINT)")
	flags.StringVar(&opts.token, "token", "", "Bearer token of the http store (overrides ASSET_UPLOAD_TOKEN)")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "Write upload metrics in the Prometheus text format to this file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		uploadCmd(opts),
		removeCmd(opts),
		primaryCmd(opts),
		reorderCmd(opts),
		listCmd(opts),
	)

	return rootCmd
}

// workspace ties a loaded manifest to a manager working on its assets.
type workspace struct {
	opts     *options
	props    *assetconf.Properties
	manifest manifest
	manager  *assets.Manager
}

func (o *options) loadProperties() (*assetconf.Properties, error) {
	props, err := assetconf.Load(o.envRepo, o.profile)
	if err != nil {
		return nil, err
	}
	if o.store != "" {
		props.Store = strings.ToLower(o.store)
	}
	if o.endpoint != "" {
		props.Upload.Endpoint = o.endpoint
	}
	if o.token != "" {
		props.Upload.Token = o.token
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}
	return props, nil
}

func (o *options) open(ctx context.Context, managerOpts ...assets.Option) (*workspace, error) {
	props, err := o.loadProperties()
	if err != nil {
		return nil, err
	}
	if o.verbose {
		props.Print(o.logger)
	}

	m, err := readManifest(o.manifest)
	if err != nil {
		return nil, err
	}
	if m.Profile != "" && m.Profile != props.Profile {
		return nil, fmt.Errorf("manifest %s belongs to the %s profile, not %s", o.manifest, m.Profile, props.Profile)
	}
	m.Profile = props.Profile

	newStore := o.newStoreFunc
	if newStore == nil {
		newStore = o.defaultStore
	}
	store, err := newStore(ctx, props)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	managerOpts = append([]assets.Option{
		assets.WithLogger(o.logger),
		assets.WithSeed(m.Assets),
	}, managerOpts...)
	manager, err := assets.NewManager(props.AssetConfig(), store, managerOpts...)
	if err != nil {
		return nil, err
	}

	return &workspace{opts: o, props: props, manifest: m, manager: manager}, nil
}

func (o *options) defaultStore(ctx context.Context, props *assetconf.Properties) (network.Store, error) {
	observer, err := network.NewPrometheusObserver(metricsNamespace, o.registry)
	if err != nil {
		return nil, err
	}
	return props.NewStore(ctx, o.logger, observer)
}

// close waits for the background deletes and persists the asset set.
func (w *workspace) close() error {
	w.manager.WaitForCleanup()

	w.manifest.Assets = w.manager.Assets()
	if err := writeManifest(w.opts.manifest, w.manifest); err != nil {
		return err
	}
	w.opts.logger.Debugf("Saved %d asset(s) to %s", len(w.manifest.Assets), w.opts.manifest)

	if w.opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(w.opts.metricsFile, w.opts.registry); err != nil {
			w.opts.logger.Warnf("Failed to write metrics: %s", err)
		}
	}
	return nil
}
