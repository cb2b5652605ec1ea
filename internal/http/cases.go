package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mammo-assist/pkg"
)

const maxUploadBytes = 20 << 20

type caseListResponse struct {
	Cases    []*pkg.PatientCase `json:"cases"`
	Selected string             `json:"selected"`
}

type caseResponse struct {
	Case *pkg.PatientCase `json:"case"`
	View CaseView         `json:"view"`
}

func newCaseResponse(c *pkg.PatientCase) caseResponse {
	return caseResponse{Case: c, View: presentCase(c)}
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, caseListResponse{Cases: s.Store.List(), Selected: s.Store.SelectedID()})
}

// handleCreateCase accepts a multipart upload with "file" and "patient_id".
func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "invalid upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "reading upload: "+err.Error())
		return
	}
	if len(data) > maxUploadBytes {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("file exceeds %d bytes", maxUploadBytes))
		return
	}

	c, err := s.Store.Create(r.Context(), r.FormValue("patient_id"), header.Filename, data, header.Header.Get("Content-Type"))
	if err != nil {
		writeErr(w, err)
		return
	}
	s.writeCaseJSON(w, http.StatusCreated, pkg.CreateCaseResponse{Case: c, Selected: s.Store.SelectedID()})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.Store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newCaseResponse(c))
}

func (s *Server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	s.writeCaseJSON(w, http.StatusOK, map[string]string{"selected": s.Store.SelectedID()})
}

func (s *Server) handleSelectCase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Store.Select(id); err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"selected": id})
}

func (s *Server) handleAnalyzeCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.Store.Analyze(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	s.writeCaseJSON(w, http.StatusOK, newCaseResponse(c))
}

func (s *Server) handleUpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req pkg.NotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}
	c, err := s.Store.UpdateNotes(r.Context(), mux.Vars(r)["id"], req.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.writeCaseJSON(w, http.StatusOK, newCaseResponse(c))
}

func (s *Server) handlePatients(w http.ResponseWriter, r *http.Request) {
	ids := s.Store.PatientIDs()
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusOK, ids)
}

type healthResponse struct {
	Status       string     `json:"status"`
	Cases        int        `json:"cases"`
	Persisted    bool       `json:"persisted"`
	LastSnapshot *time.Time `json:"lastSnapshot,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ps := s.Store.PersistStatus()
	resp := healthResponse{Status: "ok", Cases: len(s.Store.List()), Persisted: ps.OK()}
	if !ps.At.IsZero() {
		at := ps.At
		resp.LastSnapshot = &at
	}
	if ps.Err != nil {
		resp.Status = "degraded"
		resp.LastError = ps.Err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}
