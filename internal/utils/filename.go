package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VolumeExt is the extension shared by all archive volumes.
const VolumeExt = ".tar.lz4"

// VolumeName returns the file name of volume index (1-based) of archive base.
// Format: base.tar.lz4.001
func VolumeName(base string, index int) string {
	return fmt.Sprintf("%s%s.%03d", base, VolumeExt, index)
}

// ParseVolumeName splits a volume file name into its archive base and index.
func ParseVolumeName(name string) (string, int, error) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return "", 0, fmt.Errorf("no volume suffix in %q", name)
	}
	index, err := strconv.Atoi(name[dot+1:])
	if err != nil || index < 1 {
		return "", 0, fmt.Errorf("invalid volume index in %q", name)
	}
	base, ok := strings.CutSuffix(name[:dot], VolumeExt)
	if !ok || base == "" {
		return "", 0, fmt.Errorf("%q is not a volume name", name)
	}
	return base, index, nil
}

// FormatTimestamp renders t as the human readable time string stored with
// each snapshot record.
// Format: 2006-01-02T15:04:05.000Z
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// UnixSeconds returns t as fractional Unix seconds with microsecond precision.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromUnixSeconds is the inverse of UnixSeconds.
func FromUnixSeconds(ts float64) time.Time {
	return time.UnixMicro(int64(ts*1e6 + 0.5)).UTC()
}
