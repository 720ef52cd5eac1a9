package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage/calibration"
	"go.viam.com/stereocalib/rimage/calibration/calibtest"
	"go.viam.com/stereocalib/rimage/calibration/history"
)

const testConfig = `{
	"depth_alignment": {"crop": {"width": 0}},
	"preview": {"load_wait_ms": 0, "detect_wait_ms": 0, "rectified_wait_ms": 0}
}`

func TestMainCalibratesRenderedRig(t *testing.T) {
	rig := calibtest.NewRig(t, false)
	frames := t.TempDir()
	rig.WriteFrames(t, frames, ".png")

	out := t.TempDir()
	cfgPath := filepath.Join(out, "config.json")
	test.That(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600), test.ShouldBeNil)
	intrinsics := filepath.Join(out, "intrinsics.xml")
	extrinsics := filepath.Join(out, "extrinsics.yml")
	params := filepath.Join(out, "stereo-params.json")
	db := filepath.Join(out, "history.db")
	chart := filepath.Join(out, "errors.png")
	previews := filepath.Join(out, "preview")
	logFile := filepath.Join(out, "logs", "calibration.log")

	err := mainWithArgs(context.Background(), []string{
		"-dir", frames,
		"-size", "5",
		"-config", cfgPath,
		"-intrinsics", intrinsics,
		"-extrinsics", extrinsics,
		"-stereo-params", params,
		"-history", db,
		"-report", chart,
		"-preview-dir", previews,
		"-log-file", logFile,
		"-debug",
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	for _, path := range []string{intrinsics, extrinsics, params, chart} {
		_, err := os.Stat(path)
		test.That(t, err, test.ShouldBeNil)
	}
	written, err := os.ReadDir(previews)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, written, test.ShouldNotBeEmpty)
	logged, err := os.ReadFile(logFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logged), test.ShouldContainSubstring, `"msg":"calibration done"`)

	// every board was found, so the saddle map directory stays empty
	saddles, err := os.ReadDir(filepath.Join(previews, "saddles"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saddles, test.ShouldBeEmpty)

	sp, err := calibration.ReadStereoParams(params, rig.Size)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sp.T.X, test.ShouldAlmostEqual, rig.T.X, 2)
	cam1, _, err := calibration.ReadIntrinsics(intrinsics, rig.Size)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam1.Fx, test.ShouldAlmostEqual, rig.Camera1.Fx, 5)

	store, err := history.Open(db)
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, store.Close(), test.ShouldBeNil) }()
	runs, err := store.List(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(runs), test.ShouldEqual, 1)
	test.That(t, runs[0].Status, test.ShouldEqual, history.StatusSucceeded)
	test.That(t, runs[0].Dir, test.ShouldEqual, frames)
	test.That(t, runs[0].FramesLoaded, test.ShouldEqual, 5)
}

func TestMainRecordsFailedRun(t *testing.T) {
	frames := t.TempDir()
	out := t.TempDir()
	db := filepath.Join(out, "history.db")
	intrinsics := filepath.Join(out, "intrinsics.xml")
	err := mainWithArgs(context.Background(), []string{
		"-dir", frames,
		"-size", "2",
		"-intrinsics", intrinsics,
		"-history", db,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no frame pair with a detected pattern")
	_, err = os.Stat(intrinsics)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	store, err := history.Open(db)
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, store.Close(), test.ShouldBeNil) }()
	runs, err := store.List(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(runs), test.ShouldEqual, 1)
	test.That(t, runs[0].Status, test.ShouldEqual, history.StatusFailed)
	test.That(t, runs[0].Rejected, test.ShouldResemble, []int{0, 1})
}

func TestMainArguments(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	previews := filepath.Join(t.TempDir(), "preview")
	for _, tc := range []struct {
		Name string
		Args []string
		Err  string
	}{
		{"unknown flag", []string{"-frobnicate"}, "frobnicate"},
		{"no pairs", []string{"-size", "0"}, "at least one frame pair"},
		{"missing config", []string{"-config", missing}, "missing.json"},
		{"negative preview rate", []string{"-preview-dir", previews, "-preview-rate", "-1"}, "preview rate"},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			err := mainWithArgs(context.Background(), tc.Args, logging.NewTestLogger(t))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.Err)
		})
	}
}
