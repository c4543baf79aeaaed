package watcher

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"

	"photovault/internal/filesystem"
	"photovault/internal/logging"
)

// Fingerprint hashes a file's content for the duplicate-add consolidation
// rule. Files up to sizeThreshold are streamed through SHA-256 in full;
// larger files hash a head and tail sample plus the length. The sample can
// miss a mid-file mutation, which is acceptable: the fingerprint only
// disambiguates noisy duplicate adds, and a false match there keeps one add
// instead of two for the same path.
//
// Returns "" on any error so a transient read failure never blocks the
// event pipeline.
func Fingerprint(absPath string, sizeThreshold, sampleBytes int64) string {
	f, err := filesystem.Open(absPath)
	if err != nil {
		logging.Debug("Fingerprint open %s: %v", absPath, err)
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logging.Debug("Fingerprint stat %s: %v", absPath, err)
		return ""
	}
	size := info.Size()

	h := sha256.New()
	if size <= sizeThreshold {
		if _, err := io.Copy(h, f); err != nil {
			logging.Debug("Fingerprint read %s: %v", absPath, err)
			return ""
		}
		return hex.EncodeToString(h.Sum(nil))
	}

	if sampleBytes > size/2 {
		sampleBytes = size / 2
	}
	if _, err := io.CopyN(h, f, sampleBytes); err != nil {
		logging.Debug("Fingerprint head read %s: %v", absPath, err)
		return ""
	}
	if _, err := f.Seek(-sampleBytes, io.SeekEnd); err != nil {
		logging.Debug("Fingerprint seek %s: %v", absPath, err)
		return ""
	}
	if _, err := io.CopyN(h, f, sampleBytes); err != nil {
		logging.Debug("Fingerprint tail read %s: %v", absPath, err)
		return ""
	}

	// The length suffix keeps same-sample files of different sizes apart.
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(size))
	h.Write(lenBuf[:])

	return hex.EncodeToString(h.Sum(nil))
}
