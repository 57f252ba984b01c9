package ecubridge

import (
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
)

// Set at build time via `-ldflags "-X 'github.com/doismellburning/ecubridge/src.ECUBRIDGE_VERSION=X'"`
var ECUBRIDGE_VERSION string

func getBuildSettingOrDefault(bi *debug.BuildInfo, key string, defaultValue string) string {
	if bi == nil {
		return defaultValue
	}

	for _, bs := range bi.Settings {
		if bs.Key == key {
			return bs.Value
		}
	}

	return defaultValue
}

// buildRevision is the VCS revision, marked when the tree was dirty.
func buildRevision(bi *debug.BuildInfo) string {
	var revision = getBuildSettingOrDefault(bi, "vcs.revision", "UNKNOWN")
	var dirtyStr = getBuildSettingOrDefault(bi, "vcs.modified", "INVALID")

	var dirty, err = strconv.ParseBool(dirtyStr)

	switch {
	case err != nil:
		return revision + "-UNKNOWNDIRTY"
	case dirty:
		return revision + "-DIRTY"
	default:
		return revision
	}
}

func versionString(program string, bi *debug.BuildInfo) string {
	var version = ECUBRIDGE_VERSION
	if version == "" {
		version = "!UNKNOWN!"
	}

	return fmt.Sprintf("%s - Version %s (revision %s, built at %s)",
		program, version, buildRevision(bi), getBuildSettingOrDefault(bi, "vcs.time", "UNKNOWN"))
}

func printVersion(w io.Writer, program string, verbose bool) {
	var buildInfo, _ = debug.ReadBuildInfo()

	fmt.Fprintln(w, versionString(program, buildInfo))

	if verbose && buildInfo != nil {
		fmt.Fprintf(w, "\nBuildInfo: %+v\n", buildInfo)
	}
}
