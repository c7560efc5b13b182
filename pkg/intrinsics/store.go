package intrinsics

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned by Load when the calibration file cannot be opened.
	ErrNotFound = errors.New("calibration file not found")
	// ErrFileAccess is returned when the calibration file cannot be written.
	ErrFileAccess = errors.New("calibration file not accessible")
)

// Save writes in to path, replacing any existing file.
//
// The data goes to a pending file next to path which replaces the target once
// fully written, so a failed Save leaves the previous file as it was.
func Save(path string, in *Intrinsics) error {
	if err := in.Validate(); err != nil {
		return pkgerrors.Wrap(err, "refusing to save invalid intrinsics")
	}

	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithPermissions(0644),
	)
	if err != nil {
		return pkgerrors.Wrapf(ErrFileAccess, "failed to open file %s: %v", path, err)
	}
	defer func() {
		if err := pf.Cleanup(); err != nil {
			logrus.Warnf("failed to remove temporary file for %s", path)
		}
	}()

	if err := Encode(pf, in); err != nil {
		return pkgerrors.Wrapf(err, "failed to write file %s", path)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return pkgerrors.Wrapf(ErrFileAccess, "failed to replace file %s: %v", path, err)
	}

	logrus.WithField("path", path).Debug("calibration saved")

	return nil
}

// Load reads the intrinsics stored at path. Either both matrices come back
// fully populated or an error is returned.
func Load(path string) (*Intrinsics, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrNotFound, "failed to open file %s: %v", path, err)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	in, err := Decode(fp)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read file %s", path)
	}

	logrus.WithField("path", path).WithFields(in.LogrusFields()).Debug("calibration loaded")

	return in, nil
}
