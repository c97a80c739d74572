package api

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/tzxm-crawler/internal/retrieval"
)

type beginRetrievalRequest struct {
	ProjectID string `json:"project_id"`
	SendID    string `json:"sendid"`
}

type verifyRetrievalRequest struct {
	Code string `json:"code"`
}

type retrievalResponse struct {
	SessionID string          `json:"session_id,omitempty"`
	ProjectID string          `json:"project_id,omitempty"`
	SendID    string          `json:"sendid,omitempty"`
	State     retrieval.State `json:"state"`
	Verified  bool            `json:"verified"`
	Image     string          `json:"image,omitempty"`
}

// imageURI renders captcha bytes so a browser can show them directly.
func imageURI(image []byte) string {
	if len(image) == 0 {
		return ""
	}
	ct := http.DetectContentType(image)
	if ct == "application/octet-stream" {
		ct = "image/jpeg"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// beginRetrieval handles POST /v1/retrievals.
func (s *Server) beginRetrieval(w http.ResponseWriter, r *http.Request) {
	var req beginRetrievalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "begin retrieval", err)
		return
	}
	challenge, err := s.deps.Retrieval.Begin(r.Context(), req.ProjectID, req.SendID)
	if err != nil {
		s.fail(w, "begin retrieval", err)
		return
	}
	writeJSON(w, http.StatusCreated, retrievalResponse{
		SessionID: challenge.SessionID,
		ProjectID: req.ProjectID,
		SendID:    req.SendID,
		State:     challenge.State,
		Image:     imageURI(challenge.Image),
	})
}

func (s *Server) getRetrieval(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Retrieval.Session(chi.URLParam(r, "session_id"))
	if err != nil {
		s.fail(w, "get retrieval", err)
		return
	}
	writeJSON(w, http.StatusOK, retrievalResponse{
		SessionID: snap.ID,
		ProjectID: snap.ProjectID,
		SendID:    snap.SendID,
		State:     snap.State,
		Verified:  snap.Verified,
		Image:     imageURI(snap.Image),
	})
}

// verifyRetrieval handles POST /v1/retrievals/{session_id}/verify. A wrong
// code is still a 200 carrying verified=false and a new image.
func (s *Server) verifyRetrieval(w http.ResponseWriter, r *http.Request) {
	var req verifyRetrievalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "verify retrieval", err)
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	result, err := s.deps.Retrieval.Verify(r.Context(), sessionID, req.Code)
	if err != nil {
		s.fail(w, "verify retrieval", err)
		return
	}
	writeJSON(w, http.StatusOK, retrievalResponse{
		SessionID: sessionID,
		State:     result.State,
		Verified:  result.Verified,
		Image:     imageURI(result.Image),
	})
}

// downloadRequest reads an optional DownloadRequest body.
func downloadRequest(r *http.Request) (retrieval.DownloadRequest, error) {
	var req retrieval.DownloadRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	err := decodeJSON(r, &req)
	return req, err
}

// downloadDocument handles POST /v1/retrievals/{session_id}/download and
// streams the document back as an attachment.
func (s *Server) downloadDocument(w http.ResponseWriter, r *http.Request) {
	req, err := downloadRequest(r)
	if err != nil {
		s.fail(w, "download document", err)
		return
	}
	doc, err := s.deps.Retrieval.Download(r.Context(), chi.URLParam(r, "session_id"), req)
	if err != nil {
		s.fail(w, "download document", err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Data); err != nil {
		s.logger.Warn("document write failed")
	}
}

// parseDocument handles POST /v1/retrievals/{session_id}/parse.
func (s *Server) parseDocument(w http.ResponseWriter, r *http.Request) {
	req, err := downloadRequest(r)
	if err != nil {
		s.fail(w, "parse document", err)
		return
	}
	result, err := s.deps.Retrieval.Parse(r.Context(), chi.URLParam(r, "session_id"), req)
	if err != nil {
		s.fail(w, "parse document", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
