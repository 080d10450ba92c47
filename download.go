package cora

import (
	"os"
	"path"

	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
)

var (
	// TarURL points to the canonical distribution of the Cora dataset.
	TarURL = "https://linqs-data.soe.ucsc.edu/public/lbc/cora.tgz"

	// TarFile is the local name of the downloaded archive.
	TarFile = "cora.tgz"

	// TarChecksum is the SHA256 of cora.tgz. Empty skips validation -- the
	// upstream server occasionally re-packs the archive.
	TarChecksum = ""

	// DownloadSubdir is the sub-directory under the base directory where the
	// archive is unpacked -- the tarball itself contains a `cora/` directory.
	DownloadSubdir = "cora"
)

// Download fetches and unpacks the Cora dataset under `baseDir`, if not
// already there. It returns the directory holding `cora.cites` and
// `cora.content`, ready to be passed to [Load].
//
// If the files are already present, nothing is downloaded.
func Download(baseDir string) (graphDir string, err error) {
	baseDir = mldata.ReplaceTildeInDir(baseDir)
	if err = os.MkdirAll(baseDir, 0777); err != nil && !os.IsExist(err) {
		return "", errors.Wrapf(err, "failed to create download directory %q", baseDir)
	}
	graphDir = path.Join(baseDir, DownloadSubdir)
	tarPath := path.Join(baseDir, TarFile)
	err = mldata.DownloadAndUntarIfMissing(TarURL, baseDir, tarPath, graphDir, TarChecksum)
	if err != nil {
		return "", errors.WithMessagef(err, "downloading Cora dataset from %q", TarURL)
	}
	return graphDir, nil
}
