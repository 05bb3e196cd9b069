package health

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// Info identifies the running build on /version.
type Info struct {
	Version   string
	Commit    string
	BuildTime string

	// ConfigVersion reports the version of the active configuration, so a
	// hot reload can be confirmed from outside. Optional.
	ConfigVersion func() uint64
}

type versionBody struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildTime     string `json:"build_time"`
	GoVersion     string `json:"go_version"`
	ConfigVersion uint64 `json:"config_version,omitempty"`
}

// Mount registers the health endpoints on mux:
//
//	GET /health          liveness, always 200
//	GET /ready           every check; 503 when a critical one fails
//	GET /ready/{check}   a single check; 503 when it fails, 404 if unknown
//	GET /version         build info and configuration version
//
// GET patterns also answer HEAD.
func Mount(mux *http.ServeMux, c *Checker, info Info) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		status := c.CheckReadiness(r.Context())
		code := http.StatusOK
		if status.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
	})
	mux.HandleFunc("GET /ready/{check}", func(w http.ResponseWriter, r *http.Request) {
		result, ok := c.Check(r.Context(), r.PathValue("check"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		code := http.StatusOK
		if result.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, result)
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		body := versionBody{
			Version:   info.Version,
			Commit:    info.Commit,
			BuildTime: info.BuildTime,
			GoVersion: runtime.Version(),
		}
		if info.ConfigVersion != nil {
			body.ConfigVersion = info.ConfigVersion()
		}
		writeJSON(w, r, http.StatusOK, body)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}
