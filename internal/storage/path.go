package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

const exportRoot = "exports"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath returns exports/<connection>/<yyyy>/<mm>/<dd>/<run>.parquet
// using the UTC date of at.
func BuildExportPath(connectionID, runID string, at time.Time) (string, error) {
	if err := validatePathComponent(connectionID, "connection id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		exportRoot,
		connectionID,
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", ts.Month()),
		fmt.Sprintf("%02d", ts.Day()),
		runID+".parquet",
	), nil
}

// ExportPrefix is the listing prefix for every export of one connection.
func ExportPrefix(connectionID string) (string, error) {
	if err := validatePathComponent(connectionID, "connection id"); err != nil {
		return "", err
	}
	return exportRoot + "/" + connectionID + "/", nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
