package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/seenimoa/peerscope/internal/analysis/peers"
	"github.com/seenimoa/peerscope/internal/dashboard"
	"github.com/seenimoa/peerscope/internal/marketdata"
	"github.com/seenimoa/peerscope/internal/snapshot"
	"github.com/seenimoa/peerscope/pkg/models"
	"github.com/seenimoa/peerscope/pkg/utils"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":        "ok",
			"time":          now.UTC().Format("2006-01-02T15:04:05Z"),
			"market_status": utils.MarketStatus(now),
		},
	})
}

// handleListIndices returns a summary of every index list. Lists that fail to
// parse are reported in the log and left out.
func (s *Server) handleListIndices(w http.ResponseWriter, r *http.Request) {
	ids, err := s.app.Catalog.List()
	if err != nil {
		s.writeErr(w, err)
		return
	}

	infos := make([]*models.IndexInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.app.Catalog.Info(id)
		if err != nil {
			s.logger.Warn("skipping index list", zap.String("index", id), zap.Error(err))
			continue
		}
		infos = append(infos, info)
	}

	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: infos})
}

// handleGetIndex returns one index list. ?sector= narrows it to one sector.
func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.app.Catalog.Info(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	var constituents []models.IndexConstituent
	if sector := r.URL.Query().Get("sector"); sector != "" {
		constituents, err = s.app.Catalog.Peers(id, sector)
	} else {
		constituents, err = s.app.Catalog.Load(id)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if constituents == nil {
		constituents = []models.IndexConstituent{}
	}

	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    IndexDetail{Info: info, Constituents: constituents},
	})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	metas, err := s.app.Store.List()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	stale, err := s.app.Store.IsStale(s.app.Config.Data.StaleAfter)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	// Newest first.
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID > metas[j].ID })
	list := SnapshotList{Snapshots: metas, Stale: stale}
	if list.Snapshots == nil {
		list.Snapshots = []snapshot.Meta{}
	}
	if len(metas) > 0 {
		list.Latest = &metas[0]
	}

	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Store.LoadLatest()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeSnapshot(w, r, snap)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Store.Load(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeSnapshot(w, r, snap)
}

// writeSnapshot returns the snapshot with derived market-cap shares.
// ?sector= restricts the records and the share total to one sector.
func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, snap *snapshot.Snapshot) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"id":          snap.ID,
			"captured_at": snap.CapturedAt,
			"stale":       snap.Meta().Age(s.now()) > s.app.Config.Data.StaleAfter,
			"records":     peers.Derive(snap.Records, r.URL.Query().Get("sector")),
		},
	})
}

// handleFetch fetches the requested tickers, plus their sector peers when an
// index is given, and saves one snapshot.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	symbols, err := s.app.WithPeers(req.Index, utils.ParseTickerList(req.Tickers))
	if err != nil {
		s.writeErr(w, err)
		return
	}

	res, err := s.app.Fetcher.Fetch(r.Context(), symbols)
	if err != nil {
		if errors.Is(err, marketdata.ErrAllSymbolsFailed) && res != nil {
			s.writeJSON(w, http.StatusBadGateway, APIResponse{
				Success: false,
				Data:    FetchResponse{Requested: symbols, Failures: res.Failures},
				Error:   err.Error(),
			})
			return
		}
		s.writeErr(w, err)
		return
	}

	meta := res.Snapshot.Meta()
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: FetchResponse{
			Requested: symbols,
			Snapshot:  &meta,
			Fetched:   len(res.Snapshot.Records),
			Failures:  res.Failures,
		},
	})
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: dashboard.Views})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var req dashboard.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := s.app.Dashboard.Render(r.Context(), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}
