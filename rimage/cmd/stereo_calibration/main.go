// Package main calibrates a color and depth camera pair from chessboard frame pairs on disk and
// writes the intrinsics, extrinsics and stereo parameters.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"go.viam.com/utils"
	"golang.org/x/time/rate"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage/calibration"
	"go.viam.com/stereocalib/rimage/calibration/history"
	"go.viam.com/stereocalib/rimage/calibration/preview"
	"go.viam.com/stereocalib/rimage/calibration/report"
	"go.viam.com/stereocalib/rimage/detection/chessboard"
	"go.viam.com/stereocalib/rimage/transform"
)

var logger = logging.NewLogger("stereo_calibration")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Intrinsics   string `flag:"intrinsics,default=intrinsics.xml,usage=intrinsics output file"`
	Extrinsics   string `flag:"extrinsics,default=extrinsics.xml,usage=extrinsics output file"`
	StereoParams string `flag:"stereo-params,default=stereo-params.xml,usage=combined stereo parameters output file"`
	Dir          string `flag:"dir,default=/tmp/calib,usage=directory holding the frame pairs"`
	Suffix       string `flag:"suffix,default=.png,usage=frame file suffix"`
	Size         int    `flag:"size,default=1,usage=number of frame pairs"`
	Config       string `flag:"config,usage=calibration config file"`
	PreviewDir   string `flag:"preview-dir,usage=write preview frames to this directory"`
	PreviewRate  int    `flag:"preview-rate,usage=most preview frames written per second (0 writes all)"`
	Interactive  bool   `flag:"interactive,usage=wait for the operator on the terminal"`
	OpenCV       bool   `flag:"opencv,usage=detect the board with OpenCV"`
	History      string `flag:"history,usage=sqlite database recording every run"`
	Report       string `flag:"report,usage=write a chart of the per frame error to this png"`
	LogFile      string `flag:"log-file,usage=also write JSON logs to this rotating file"`
	Debug        bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Size < 1 {
		return errors.Errorf("need at least one frame pair, got %d", argsParsed.Size)
	}
	if argsParsed.Debug {
		logger.SetLevel(zapcore.DebugLevel)
	}
	if argsParsed.LogFile != "" {
		withFile, closer, fileErr := logging.AddFileOutput(logger, argsParsed.LogFile)
		if fileErr != nil {
			return fileErr
		}
		defer func() {
			err = multierr.Combine(err, closer.Close())
		}()
		logger = withFile
	}

	cfg := calibration.DefaultConfig()
	if argsParsed.Config != "" {
		var err error
		if cfg, err = calibration.ReadConfig(argsParsed.Config); err != nil {
			return err
		}
	}

	if argsParsed.PreviewDir != "" && cfg.Detection.DebugDir == "" {
		cfg.Detection.DebugDir = filepath.Join(argsParsed.PreviewDir, "saddles")
	}
	detector, err := newDetector(cfg, argsParsed.OpenCV, logger.Sublogger("chessboard"))
	if err != nil {
		return err
	}
	presenter, err := newPresenter(argsParsed, logger.Sublogger("preview"))
	if err != nil {
		return err
	}

	outputs := calibration.Outputs{
		Intrinsics:   argsParsed.Intrinsics,
		Extrinsics:   argsParsed.Extrinsics,
		StereoParams: argsParsed.StereoParams,
	}
	pipeline := &calibration.Pipeline{
		Config:    cfg,
		Detector:  detector,
		Math:      transform.GonumVisionMath{},
		Presenter: presenter,
		Outputs:   outputs,
		Logger:    logger,
	}
	res, runErr := pipeline.Run(ctx, argsParsed.Dir, argsParsed.Suffix, argsParsed.Size)
	if res == nil {
		return runErr
	}
	fmt.Fprintln(os.Stdout, report.Table(res))

	if argsParsed.Report != "" && len(res.FrameErrors) > 0 {
		if err := report.SaveChart(argsParsed.Report, res); err != nil {
			runErr = multierr.Combine(runErr, errors.Wrap(err, "cannot write report chart"))
		}
	}
	if argsParsed.History != "" {
		runErr = multierr.Combine(runErr, record(ctx, argsParsed.History, history.NewRun(res, argsParsed.Dir, outputs, runErr)))
	}
	return runErr
}

func newPresenter(args Arguments, logger logging.Logger) (preview.Presenter, error) {
	var presenter preview.Presenter = preview.Headless{}
	if args.PreviewDir != "" {
		limit := rate.Inf
		if args.PreviewRate != 0 {
			limit = rate.Limit(args.PreviewRate)
		}
		dp, err := preview.NewDirectoryPresenter(args.PreviewDir, limit, logger)
		if err != nil {
			return nil, err
		}
		presenter = dp
	}
	if args.Interactive {
		presenter = preview.NewPromptPresenter(presenter, os.Stdin, os.Stdout)
	}
	return presenter, nil
}

func newDetector(cfg *calibration.Config, openCV bool, logger logging.Logger) (chessboard.Detector, error) {
	if openCV {
		return newOpenCVDetector(cfg.Detection)
	}
	return chessboard.NewSaddleDetector(cfg.Detection, logger)
}

func record(ctx context.Context, path string, run history.Run) (err error) {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()
	return store.Record(ctx, run)
}
