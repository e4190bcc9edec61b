package api

import (
	"net/http"
)

// ConfigResponse is returned by GET /api/v1/config. Durations are rendered
// in Go duration syntax ("96h0m0s").
type ConfigResponse struct {
	IndexDir        string   `json:"index_dir"`
	SnapshotDir     string   `json:"snapshot_dir"`
	StaleAfter      string   `json:"stale_after"`
	ProviderBaseURL string   `json:"provider_base_url"`
	ProviderTimeout string   `json:"provider_timeout"`
	Concurrency     int      `json:"concurrency"`
	RatePerSec      float64  `json:"rate_per_sec"`
	CORSOrigins     []string `json:"cors_origins"`
	HistoryStart    string   `json:"sharpe_history_start,omitempty"`
	Portfolios      int      `json:"sharpe_portfolios,omitempty"`
	ConfigFile      string   `json:"config_file,omitempty"`
}

// handleGetConfig returns the running configuration. Nothing in it is secret.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.app.Config
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			IndexDir:        cfg.Data.IndexDir,
			SnapshotDir:     cfg.Data.SnapshotDir,
			StaleAfter:      cfg.Data.StaleAfter.String(),
			ProviderBaseURL: cfg.Fetch.BaseURL,
			ProviderTimeout: cfg.Fetch.ProviderTimeout.String(),
			Concurrency:     cfg.Fetch.Concurrency,
			RatePerSec:      cfg.Fetch.RatePerSec,
			CORSOrigins:     cfg.API.CORSOrigins,
			HistoryStart:    cfg.Sharpe.HistoryStart,
			Portfolios:      cfg.Sharpe.Portfolios,
			ConfigFile:      cfg.File,
		},
	})
}
