package index

import (
	"fmt"
	"strings"
)

// FileFailure is one image that could not be embedded during a build.
type FileFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// BuildError reports a cache build in which one or more files failed to
// embed. The files that succeeded were already persisted before this error
// was returned; re-running the build embeds only the missing files.
type BuildError struct {
	Failures []FileFailure
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cache build completed with %d failure(s):", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s: %s", f.Path, f.Reason)
	}
	return b.String()
}
