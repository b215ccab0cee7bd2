// Package api is the HTTP surface of the metadata engine: the update
// submission pipeline, the change feed, the batch endpoints, and the
// websocket notification hub.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/polaris-sync/polaris/internal/batch"
	"github.com/polaris-sync/polaris/internal/location"
	"github.com/polaris-sync/polaris/internal/object"
	"github.com/polaris-sync/polaris/internal/translog"
)

type Server struct {
	log    *translog.Log
	loc    *location.Index
	batch  *batch.Coordinator
	auth   Authenticator
	access AccessChecker
	hub    *Hub
}

func NewServer(tlog *translog.Log, loc *location.Index, auth Authenticator, access AccessChecker) *Server {
	return &Server{
		log:    tlog,
		loc:    loc,
		batch:  batch.New(tlog, loc),
		auth:   auth,
		access: access,
		hub:    NewHub(),
	}
}

// Hub exposes the notification hub, e.g. for in-process tests.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /stores/{sid}", s.requireAuth(s.handleCreateStore))
	mux.HandleFunc("POST /objects/{oid}", s.requireAuth(s.handleSubmit))
	mux.HandleFunc("GET /objects/{root}/changes", s.requireAuth(s.handleChanges))
	mux.HandleFunc("POST /batch", s.requireAuth(s.handleBatch))
	mux.HandleFunc("POST /locations/batch", s.requireAuth(s.handleLocationBatch))
	mux.HandleFunc("POST /locations/status/batch", s.requireAuth(s.handleLocationStatus))
	mux.Handle("GET /notifications", s.hub)
	return mux
}

type errorBody struct {
	ErrorCode    object.ErrorCode `json:"error_code"`
	ErrorMessage string           `json:"error_message"`

	// VERSION_CONFLICT detail, so clients can resubmit with the current
	// version without an extra round trip.
	OID              object.OID `json:"oid,omitempty"`
	SubmittedVersion uint64     `json:"submitted_version,omitempty"`
	ActualVersion    uint64     `json:"actual_version,omitempty"`

	// NAME_CONFLICT detail.
	Parent object.OID `json:"parent,omitempty"`
	Name   string     `json:"name,omitempty"`
	Holder object.OID `json:"holder,omitempty"`
}

func statusFor(code object.ErrorCode) int {
	switch code {
	case object.CodeVersionConflict, object.CodeNameConflict:
		return http.StatusConflict
	case object.CodeNotFound:
		return http.StatusNotFound
	case object.CodeInvalidUpdate:
		return http.StatusBadRequest
	case object.CodeAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := object.CodeOf(err)
	body := errorBody{ErrorCode: code, ErrorMessage: err.Error()}
	var vc *object.VersionConflictError
	var nc *object.NameConflictError
	switch {
	case errors.As(err, &vc):
		body.OID = vc.OID
		body.SubmittedVersion = vc.Submitted
		body.ActualVersion = vc.Actual
	case errors.As(err, &nc):
		body.Parent = nc.Parent
		body.Name = nc.Name
		body.Holder = nc.Holder
	}
	writeJSON(w, statusFor(code), body)
}

func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{ErrorCode: object.CodeAccessDenied, ErrorMessage: "missing bearer token"})
			return
		}
		p, err := s.auth.Verify(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{ErrorCode: object.CodeAccessDenied, ErrorMessage: "invalid token"})
			return
		}
		next(w, r, p)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

type createStoreRequest struct {
	Name string `json:"name,omitempty"`
}

func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request, p Principal) {
	sid := object.SID(r.PathValue("sid"))
	if !object.ValidIdentifier(string(sid)) {
		writeError(w, &object.InvalidUpdateError{Reason: "malformed store id"})
		return
	}
	if !s.access.CanAccess(p, sid) {
		writeJSON(w, http.StatusForbidden, errorBody{ErrorCode: object.CodeAccessDenied, ErrorMessage: "store access denied"})
		return
	}
	var req createStoreRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &object.InvalidUpdateError{Reason: "malformed body"})
			return
		}
	}
	if err := s.log.CreateStore(r.Context(), sid, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sid": string(sid)})
}

type submitRequest struct {
	Root   object.SID    `json:"root"`
	Update object.Update `json:"update"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, p Principal) {
	oid := object.OID(r.PathValue("oid"))
	if !object.ValidIdentifier(string(oid)) {
		writeError(w, &object.InvalidUpdateError{Reason: "malformed oid"})
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &object.InvalidUpdateError{Reason: "malformed body"})
		return
	}
	if !s.access.CanAccess(p, req.Root) {
		writeJSON(w, http.StatusForbidden, errorBody{ErrorCode: object.CodeAccessDenied, ErrorMessage: "store access denied"})
		return
	}
	t, err := s.log.Apply(r.Context(), req.Root, oid, req.Update, p.Device)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.Publish(t.Root, t.ChangeID)
	writeJSON(w, http.StatusOK, t)
}

type changesResponse struct {
	Transforms []object.RemoteChange `json:"transforms"`
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, p Principal) {
	root := object.SID(r.PathValue("root"))
	if !s.access.CanAccess(p, root) {
		writeJSON(w, http.StatusForbidden, errorBody{ErrorCode: object.CodeAccessDenied, ErrorMessage: "store access denied"})
		return
	}
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	transforms, err := s.log.ChangesSince(r.Context(), root, since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := changesResponse{Transforms: make([]object.RemoteChange, 0, len(transforms))}
	for _, t := range transforms {
		resp.Transforms = append(resp.Transforms, t.AsRemoteChange())
	}

	if strings.Contains(r.Header.Get("Accept-Encoding"), "zstd") {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "zstd")
		w.WriteHeader(http.StatusOK)
		enc, err := zstd.NewWriter(w)
		if err != nil {
			log.Printf("api: zstd writer: %v", err)
			return
		}
		if err := json.NewEncoder(enc).Encode(resp); err != nil {
			log.Printf("api: encode changes: %v", err)
		}
		if err := enc.Close(); err != nil {
			log.Printf("api: flush zstd: %v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type batchRequest struct {
	Updates []batch.UpdateItem `json:"updates"`
}

type batchResponse struct {
	Results []batch.UpdateResult `json:"results"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, p Principal) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &object.InvalidUpdateError{Reason: "malformed body"})
		return
	}
	// Access is checked per item so a denied entry fails alone, like any
	// other per-item error.
	results := make([]batch.UpdateResult, len(req.Updates))
	allowed := make([]batch.UpdateItem, 0, len(req.Updates))
	allowedIdx := make([]int, 0, len(req.Updates))
	for i, item := range req.Updates {
		if !s.access.CanAccess(p, item.Root) {
			results[i] = batch.UpdateResult{
				Successful:   false,
				ErrorCode:    object.CodeAccessDenied,
				ErrorMessage: "store access denied",
			}
			continue
		}
		allowed = append(allowed, item)
		allowedIdx = append(allowedIdx, i)
	}
	for i, res := range s.batch.ApplyUpdates(r.Context(), p.Device, allowed) {
		results[allowedIdx[i]] = res
		if res.Successful && res.Transform != nil {
			s.hub.Publish(res.Transform.Root, res.Transform.ChangeID)
		}
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

type locationBatchRequest struct {
	Locations []batch.LocationItem `json:"locations"`
}

type locationBatchResponse struct {
	Results []batch.LocationResult `json:"results"`
}

func (s *Server) handleLocationBatch(w http.ResponseWriter, r *http.Request, p Principal) {
	var req locationBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &object.InvalidUpdateError{Reason: "malformed body"})
		return
	}
	results := s.batch.MarkLocations(r.Context(), req.Locations)
	writeJSON(w, http.StatusOK, locationBatchResponse{Results: results})
}

type locationStatusRequest struct {
	Queries []batch.StatusItem `json:"queries"`
}

type locationStatusResponse struct {
	Results []batch.StatusResult `json:"results"`
}

func (s *Server) handleLocationStatus(w http.ResponseWriter, r *http.Request, p Principal) {
	var req locationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &object.InvalidUpdateError{Reason: "malformed body"})
		return
	}
	results := s.batch.LocationStatus(r.Context(), req.Queries)
	writeJSON(w, http.StatusOK, locationStatusResponse{Results: results})
}
