package handlers

import "net/http"

// VersionInfo describes the running build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

var versionInfo = VersionInfo{Version: "dev"}

// SetVersionInfo records build metadata injected at link time.
func SetVersionInfo(version, commit, date string) {
	if version != "" {
		versionInfo.Version = version
	}
	versionInfo.Commit = commit
	versionInfo.Date = date
}

// VersionHandler serves the build metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionInfo)
}
