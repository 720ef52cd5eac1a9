package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestAddFileOutput(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	path := filepath.Join(t.TempDir(), "logs", "calib.log")
	withFile, closer, err := AddFileOutput(logger, path)
	test.That(t, err, test.ShouldBeNil)

	withFile.Sublogger("solve").Infow("stereo solved", "rms", 0.25)
	withFile.SetLevel(zapcore.InfoLevel)
	withFile.Debug("hidden")
	test.That(t, withFile.Sync(), test.ShouldBeNil)
	test.That(t, closer.Close(), test.ShouldBeNil)

	// the original outputs still see the entry
	test.That(t, logs.FilterMessage("stereo solved").Len(), test.ShouldEqual, 1)
	test.That(t, logger.Level(), test.ShouldEqual, zapcore.InfoLevel)

	f, err := os.Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, f.Close(), test.ShouldBeNil) }()
	var entries []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		test.That(t, json.Unmarshal(scanner.Bytes(), &entry), test.ShouldBeNil)
		entries = append(entries, entry)
	}
	test.That(t, scanner.Err(), test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0]["msg"], test.ShouldEqual, "stereo solved")
	test.That(t, entries[0]["logger"], test.ShouldEqual, "solve")
	test.That(t, entries[0]["level"], test.ShouldEqual, "INFO")
	test.That(t, entries[0]["rms"], test.ShouldEqual, 0.25)

	_, _, err = AddFileOutput(logger, "")
	test.That(t, err, test.ShouldNotBeNil)
}
