package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/chatlens/chatlens/internal/ailink"
	"github.com/chatlens/chatlens/internal/appid"
	"github.com/chatlens/chatlens/internal/research"
)

// Build metadata, set from main.
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
	appIdentity  *appid.Identity
)

// SetVersionInfo records build metadata for /version.
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion, AppCommit, AppBuildDate = version, commit, buildDate
}

// SetAppIdentity sets the identity reported by /version.
func SetAppIdentity(identity *appid.Identity) {
	appIdentity = identity
}

// VersionResponse is the /version body.
type VersionResponse struct {
	App          AppInfo      `json:"app"`
	Research     ResearchInfo `json:"research"`
	Dependencies DepInfo      `json:"dependencies"`
	Runtime      RuntimeInfo  `json:"runtime"`
}

type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// ResearchInfo lets clients check which pipeline and event vocabulary the
// server speaks before opening a stream.
type ResearchInfo struct {
	Stages     []string `json:"stages"`
	StreamType string   `json:"stream_content_type"`
	EventTypes []string `json:"event_types"`
}

type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

var streamEventTypes = []research.EventType{
	research.EventStatus,
	research.EventQueryRewritten,
	research.EventSearchResults,
	research.EventSources,
	research.EventSynthesisStart,
	research.EventTextDelta,
	research.EventComplete,
	research.EventError,
}

func binaryName() string {
	if appIdentity != nil && appIdentity.BinaryName != "" {
		return appIdentity.BinaryName
	}
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "unknown"
}

// VersionHandler reports build, pipeline and runtime metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	deps := crucible.GetVersion()

	info := ResearchInfo{StreamType: research.ContentType}
	for _, stage := range ailink.Stages {
		info.Stages = append(info.Stages, string(stage))
	}
	for _, et := range streamEventTypes {
		info.EventTypes = append(info.EventTypes, string(et))
	}

	writeJSON(w, http.StatusOK, VersionResponse{
		App: AppInfo{
			Name:      binaryName(),
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Research:     info,
		Dependencies: DepInfo{Gofulmen: deps.Gofulmen, Crucible: deps.Crucible},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}
