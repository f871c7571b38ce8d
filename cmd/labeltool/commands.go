package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	labeler "github.com/menta2k/keypoint-labeler"
	"github.com/menta2k/keypoint-labeler/internal/config"
	"github.com/menta2k/keypoint-labeler/internal/counter"
	"github.com/menta2k/keypoint-labeler/internal/logging"
	"github.com/menta2k/keypoint-labeler/internal/utils"
	"github.com/menta2k/keypoint-labeler/pkg/client"
	"github.com/menta2k/keypoint-labeler/pkg/detection"
	"github.com/menta2k/keypoint-labeler/pkg/llamacpp"
	"github.com/menta2k/keypoint-labeler/pkg/ollama"
	"github.com/menta2k/keypoint-labeler/pkg/processing"
	"github.com/menta2k/keypoint-labeler/pkg/remote"
	"github.com/menta2k/keypoint-labeler/pkg/types"
	"github.com/menta2k/keypoint-labeler/pkg/vision"
)

// setup loads the configuration, applies command flags and builds the logger.
// A missing config file at the default location means defaults.
func setup(c *cli.Context) (*config.Config, *zap.SugaredLogger, error) {
	logger, err := logging.NewLogger(c.Bool(flagDebug))
	if err != nil {
		return nil, nil, err
	}

	cfg := config.Default()
	path := c.String(flagConfig)
	if utils.FileExists(path) {
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, nil, err
		}
		logger.Debugw("loaded config", "path", path)
	} else if c.IsSet(flagConfig) {
		return nil, nil, fmt.Errorf("config file %s not found", path)
	}

	if v := c.String(flagBackend); v != "" {
		cfg.Detector.Backend = v
	}
	if v := c.String(flagURL); v != "" {
		cfg.Detector.URL = v
	}
	if v := c.String(flagModel); v != "" {
		cfg.Detector.Model = v
	}
	if v := c.Float64(flagConf); v >= 0 && c.IsSet(flagConf) {
		cfg.Inference.Confidence = v
	}
	if v := c.Float64(flagIoU); v >= 0 && c.IsSet(flagIoU) {
		cfg.Inference.IoU = v
	}
	if v := c.Float64(flagVisibility); v >= 0 && c.IsSet(flagVisibility) {
		cfg.Inference.Visibility = v
	}
	if v := c.Int(flagKeypoints); v >= 0 && c.IsSet(flagKeypoints) {
		cfg.Labeling.NumKeypointClasses = v
	}
	if v := c.String(flagOut); v != "" {
		cfg.Output.OutputDir = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newVisionClient returns the vision-model client of the configured backend,
// nil for backends that are not vision models
func newVisionClient(cfg config.DetectorConfig) (client.VisionClient, error) {
	switch cfg.Backend {
	case config.BackendOllama:
		return ollama.NewClient(cfg.URL)
	case config.BackendLlamaCpp:
		return llamacpp.NewClient(cfg.URL)
	}
	return nil, nil
}

func newProvider(cfg config.DetectorConfig, logger *zap.SugaredLogger) (detection.Provider, error) {
	switch cfg.Backend {
	case config.BackendOllama, config.BackendLlamaCpp:
		vc, err := newVisionClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("create %s client: %w", cfg.Backend, err)
		}
		return detection.NewVisionDetector(vc, detection.VisionOptions{
			Model:        cfg.Model,
			Classes:      cfg.Classes,
			NumKeypoints: cfg.NumKeypoints,
			MaxSize:      cfg.MaxSize,
			Quality:      cfg.Quality,
		}, logger.Named("vision-model")), nil

	case config.BackendRemote:
		return remote.NewClient(cfg.URL, logger.Named("remote"))

	case config.BackendSaliency:
		vcfg := vision.DefaultConfig()
		if len(cfg.Classes) > 0 {
			vcfg.ClassName = cfg.Classes[0]
		}
		return vision.NewWithConfig(vcfg, logger.Named("saliency")), nil
	}
	return nil, types.InvalidInputf("unknown backend %q", cfg.Backend)
}

func newLabeler(cfg *config.Config, logger *zap.SugaredLogger, provider detection.Provider) (*labeler.Labeler, error) {
	params := cfg.Params()
	return labeler.New(labeler.Options{
		Detector:           provider,
		Counter:            counter.Load(cfg.Labeling.CounterPath, logger),
		Params:             &params,
		NumKeypointClasses: cfg.Labeling.NumKeypointClasses,
		ClassID:            cfg.Labeling.ClassID,
		HandleThreshold:    cfg.Labeling.HandleThreshold,
		Quality:            cfg.Output.Quality,
		Logger:             logger,
	})
}

// parseSize parses a WxH canvas size
func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, types.InvalidInputf("size %q is not WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, types.InvalidInputf("size %q is not WxH", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, types.InvalidInputf("size %q is not WxH", s)
	}
	return width, height, nil
}

func scanAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: labeltool scan DIR", 2)
	}
	images, err := utils.ScanImages(c.Args().First())
	if err != nil {
		return err
	}
	for _, img := range images {
		fmt.Fprintln(c.App.Writer, img)
	}
	return nil
}

func detectAction(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	provider, err := newProvider(cfg.Detector, logger)
	if err != nil {
		return err
	}
	l, err := newLabeler(cfg, logger, provider)
	if err != nil {
		return err
	}
	if err := l.LoadImage(c.String(flagImage)); err != nil {
		return err
	}
	if err := l.SetOutputDir(cfg.Output.OutputDir); err != nil {
		return err
	}

	n, err := l.RunInference(c.Context)
	if err != nil {
		return err
	}
	logger.Infow("detected", "boxes", n, "names", l.Names())

	res, err := l.Save()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\n%s\n", res.ImagePath, res.LabelPath)
	return nil
}

func replayAction(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	events, err := loadScript(c.String(flagEvents))
	if err != nil {
		return err
	}
	width, height, err := parseSize(c.String(flagCanvas))
	if err != nil {
		return err
	}

	var provider detection.Provider
	if needsDetector(events) {
		if provider, err = newProvider(cfg.Detector, logger); err != nil {
			return err
		}
	}
	l, err := newLabeler(cfg, logger, provider)
	if err != nil {
		return err
	}
	if err := l.LoadImage(c.String(flagImage)); err != nil {
		return err
	}
	if err := l.Layout(width, height); err != nil {
		return err
	}
	if path := c.String(flagLabels); path != "" {
		if err := l.LoadLabels(path); err != nil {
			return err
		}
	}
	if err := l.SetOutputDir(cfg.Output.OutputDir); err != nil {
		return err
	}

	if err := runScript(c.Context, l, events, logger); err != nil {
		return err
	}
	if c.Bool(flagNoSave) {
		fmt.Fprintf(c.App.Writer, "%d boxes, not saved\n", len(l.Boxes()))
		return nil
	}
	res, err := l.Save()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\n%s\n", res.ImagePath, res.LabelPath)
	return nil
}

func previewAction(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	width, height, err := parseSize(c.String(flagCanvas))
	if err != nil {
		return err
	}
	l, err := newLabeler(cfg, logger, nil)
	if err != nil {
		return err
	}
	if err := l.LoadImage(c.String(flagImage)); err != nil {
		return err
	}
	if err := l.Layout(width, height); err != nil {
		return err
	}
	if path := c.String(flagLabels); path != "" {
		if err := l.LoadLabels(path); err != nil {
			return err
		}
	}

	overlay, err := l.Render()
	if err != nil {
		return err
	}
	out := c.String(flagOut)
	if utils.GetFileExtension(out) == "" {
		out += "." + cfg.Output.OverlayFormat
	}
	if err := processing.NewProcessor().SaveImage(overlay, out, cfg.Output.Quality); err != nil {
		return fmt.Errorf("save overlay: %w", err)
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func probeAction(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := c.Context

	switch cfg.Detector.Backend {
	case config.BackendRemote:
		rc, err := remote.NewClient(cfg.Detector.URL, logger)
		if err != nil {
			return err
		}
		if err := rc.CheckHealth(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "remote service healthy:", cfg.Detector.URL)
		return nil

	case config.BackendSaliency:
		fmt.Fprintln(c.App.Writer, "saliency backend runs locally")
		return nil
	}

	image := c.String(flagImage)
	if image == "" {
		return cli.Exit("probe of a vision model needs --image", 2)
	}
	provider, err := newProvider(cfg.Detector, logger)
	if err != nil {
		return err
	}
	vd, ok := provider.(*detection.VisionDetector)
	if !ok {
		return fmt.Errorf("backend %s cannot be probed", cfg.Detector.Backend)
	}
	reply, err := vd.TestVision(ctx, image)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, reply)
	return nil
}

func configInitAction(c *cli.Context) error {
	path := c.String(flagConfig)
	if utils.FileExists(path) && !c.Bool(flagForce) {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}
