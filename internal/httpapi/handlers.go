package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/campusgate/server/internal/gate/extract"
	"github.com/campusgate/server/internal/gate/service"
	"github.com/campusgate/server/internal/gate/types"
)

// ── Scanning ─────────────────────────────────────────────────────────────────

type scanRequest struct {
	Payload       string          `json:"payload"`
	LocationLabel string          `json:"location_label,omitempty"`
	Via           string          `json:"via,omitempty"`
	Direction     types.Direction `json:"direction,omitempty"` // advisory, ignored
}

type scanResponse struct {
	types.ScanOutcome
	Identity        types.Identity     `json:"identity"`
	AutoProvisioned bool               `json:"auto_provisioned"`
	Strategy        service.Strategy   `json:"strategy"`
	Confidence      extract.Confidence `json:"confidence"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "bad_body", err.Error())
		return
	}
	if strings.TrimSpace(req.Payload) == "" {
		writeBadRequest(w, r, "invalid_payload", "payload is required")
		return
	}

	res, err := s.resolver.Resolve(r.Context(), req.Payload)
	if err != nil {
		s.writeServiceError(w, r, "resolve", err)
		return
	}

	via := types.ViaScan
	if types.RecordedVia(req.Via) == types.ViaManual {
		via = types.ViaManual
	}
	out, err := s.recorder.RecordScan(r.Context(), types.ScanRequest{
		IdentityID:    res.Identity.ID,
		LocationLabel: req.LocationLabel,
		Via:           via,
		DirectionHint: req.Direction,
	})
	if err != nil {
		s.writeServiceError(w, r, "record_scan", err)
		return
	}

	respond(w, r, http.StatusOK, scanResponse{
		ScanOutcome:     out,
		Identity:        res.Identity,
		AutoProvisioned: res.AutoProvisioned,
		Strategy:        res.Strategy,
		Confidence:      res.Confidence,
	})
}

type resolveRequest struct {
	Payload string `json:"payload"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "bad_body", err.Error())
		return
	}

	res, err := s.resolver.Resolve(r.Context(), req.Payload)
	if err != nil {
		s.writeServiceError(w, r, "resolve", err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

type eventRequest struct {
	LocationLabel string          `json:"location_label,omitempty"`
	Direction     types.Direction `json:"direction,omitempty"` // advisory, ignored
}

// handleRecordEvent records a manual event for a known identity, e.g. when a
// guard admits someone whose card will not scan.
func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "bad_body", err.Error())
		return
	}

	out, err := s.recorder.RecordScan(r.Context(), types.ScanRequest{
		IdentityID:    mux.Vars(r)["id"],
		LocationLabel: req.LocationLabel,
		Via:           types.ViaManual,
		DirectionHint: req.Direction,
	})
	if err != nil {
		s.writeServiceError(w, r, "record_event", err)
		return
	}
	respond(w, r, http.StatusCreated, out)
}

// ── Identities and credentials ───────────────────────────────────────────────

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	presence, err := s.status.CurrentDirection(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "presence", err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{
		"identity_id": id,
		"presence":    presence,
	})
}

func (s *Server) handleIssueMemberToken(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	token, err := s.issuer.IssueMemberToken(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "issue_member_token", err)
		return
	}
	respond(w, r, http.StatusCreated, map[string]any{
		"status":      types.StatusConfirmed,
		"identity_id": id,
		"token":       token,
	})
}

type enrollResponse struct {
	Status   string         `json:"status"`
	Created  bool           `json:"created"`
	Identity types.Identity `json:"identity"`
}

func (s *Server) handleEnrollMember(w http.ResponseWriter, r *http.Request) {
	var req types.NewMember
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "bad_body", err.Error())
		return
	}

	ident, created, err := s.issuer.EnrollMember(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "enroll_member", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond(w, r, status, enrollResponse{Status: types.StatusConfirmed, Created: created, Identity: ident})
}

type visitorResponse struct {
	Status string `json:"status"`
	types.VisitorPass
}

func (s *Server) handleRegisterVisitor(w http.ResponseWriter, r *http.Request) {
	var req types.NewVisitor
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "bad_body", err.Error())
		return
	}

	pass, err := s.issuer.RegisterVisitor(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "register_visitor", err)
		return
	}
	respond(w, r, http.StatusCreated, visitorResponse{Status: types.StatusConfirmed, VisitorPass: pass})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.issuer.RevokeVisitorCredential(r.Context(), id); err != nil {
		s.writeServiceError(w, r, "revoke_credential", err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{
		"status":        types.StatusConfirmed,
		"credential_id": id,
	})
}

// handleSweep lets an external scheduler trigger visitor expiry.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.expirer.Sweep(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "sweep", err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{
		"status":        types.StatusConfirmed,
		"expired":       report.Expired,
		"closed_visits": report.ClosedVisits,
	})
}

// ── Status ───────────────────────────────────────────────────────────────────

func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	occ, err := s.status.OccupancyCounts(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "occupancy", err)
		return
	}
	respond(w, r, http.StatusOK, occ)
}

func (s *Server) handleDailyCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.status.DailyEventCount(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "daily_count", err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"count": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{"ok": true})
}
