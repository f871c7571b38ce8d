// Command labeltool drives the keypoint labeling engine from the command
// line: it scans image directories, pre-labels images with a detector,
// replays recorded edit sessions and renders overlays for inspection.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	labeler "github.com/menta2k/keypoint-labeler"
	"github.com/menta2k/keypoint-labeler/internal/config"
)

const (
	flagConfig     = "config"
	flagDebug      = "debug"
	flagImage      = "image"
	flagOut        = "out"
	flagBackend    = "backend"
	flagURL        = "url"
	flagModel      = "model"
	flagConf       = "conf"
	flagIoU        = "iou"
	flagVisibility = "visibility"
	flagKeypoints  = "keypoints"
	flagEvents     = "events"
	flagCanvas     = "canvas"
	flagLabels     = "labels"
	flagNoSave     = "no-save"
	flagForce      = "force"
)

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagBackend,
			Usage: "detector backend: ollama|llamacpp|remote|saliency (default from config)",
		},
		&cli.StringFlag{
			Name:  flagURL,
			Usage: "detector server URL (default from config)",
		},
		&cli.StringFlag{
			Name:  flagModel,
			Usage: "vision model name (default from config)",
		},
		&cli.Float64Flag{
			Name:  flagConf,
			Value: -1,
			Usage: "confidence threshold, -1 keeps the configured value",
		},
		&cli.Float64Flag{
			Name:  flagIoU,
			Value: -1,
			Usage: "NMS IoU threshold, -1 keeps the configured value",
		},
		&cli.Float64Flag{
			Name:  flagVisibility,
			Value: -1,
			Usage: "keypoint visibility threshold, -1 keeps the configured value",
		},
	}
}

var app = &cli.App{
	Name:            "labeltool",
	Usage:           "label bounding boxes and keypoints for YOLO pose datasets",
	Version:         labeler.Version,
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Value:   config.GetConfigPath(),
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:  flagDebug,
			Usage: "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "scan",
			Usage:     "list the images of a directory in labeling order",
			ArgsUsage: "DIR",
			Action:    scanAction,
		},
		{
			Name:  "detect",
			Usage: "pre-label an image with a detector and save the sample",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: flagImage, Required: true, Usage: "input `IMAGE`"},
				&cli.StringFlag{Name: flagOut, Usage: "output directory (default from config)"},
				&cli.IntFlag{Name: flagKeypoints, Value: -1, Usage: "keypoint slots per label line, -1 keeps the configured value"},
			}, backendFlags()...),
			Action: detectAction,
		},
		{
			Name:  "replay",
			Usage: "replay a JSON script of mouse events and actions on an image, then save",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: flagImage, Required: true, Usage: "input `IMAGE`"},
				&cli.StringFlag{Name: flagEvents, Required: true, Usage: "event script `FILE`"},
				&cli.StringFlag{Name: flagOut, Usage: "output directory (default from config)"},
				&cli.StringFlag{Name: flagCanvas, Value: "800x600", Usage: "canvas size the events were recorded on"},
				&cli.StringFlag{Name: flagLabels, Usage: "label file to start from"},
				&cli.IntFlag{Name: flagKeypoints, Value: -1, Usage: "keypoint slots per label line, -1 keeps the configured value"},
				&cli.BoolFlag{Name: flagNoSave, Usage: "do not save at the end of the script"},
			}, backendFlags()...),
			Action: replayAction,
		},
		{
			Name:  "preview",
			Usage: "render an image with its labels as they appear on the canvas",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: flagImage, Required: true, Usage: "input `IMAGE`"},
				&cli.StringFlag{Name: flagLabels, Usage: "label `FILE` to draw"},
				&cli.StringFlag{Name: flagCanvas, Value: "800x600", Usage: "canvas size"},
				&cli.StringFlag{Name: flagOut, Required: true, Usage: "overlay output `FILE` (jpg|png|webp|bmp)"},
			},
			Action: previewAction,
		},
		{
			Name:  "probe",
			Usage: "check that the configured detector backend is reachable",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: flagImage, Usage: "image to show a vision model"},
			}, backendFlags()...),
			Action: probeAction,
		},
		{
			Name:            "config",
			Usage:           "manage the configuration file",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:  "init",
					Usage: "write the default configuration",
					Flags: []cli.Flag{
						&cli.BoolFlag{Name: flagForce, Usage: "overwrite an existing file"},
					},
					Action: configInitAction,
				},
			},
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
