package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
)

const (
	contentTypeID     = "text/html; charset=utf-8"
	contentTypeBinary = "application/octet-stream"
	contentTypeJSON   = "application/json"
)

// StatusOf maps an error kind to the HTTP status reporting it.
func StatusOf(kind errors.Kind) int {
	switch kind {
	case errors.ValidationFailed, errors.AttributeAbsent:
		return http.StatusBadRequest
	case errors.ReferenceNotFound:
		return http.StatusNotFound
	case errors.Timeout:
		return http.StatusGatewayTimeout
	case errors.TransportFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sessionKey(r *http.Request) string {
	if s := r.Header.Get(SessionHeader); s != "" {
		return s
	}
	return r.RemoteAddr
}

// handleSubmit accepts a JSON command envelope, or a raw CBOR value when the
// body is application/octet-stream. The response is the result id, or the
// encoded result for commands with return_result set.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.writeError(w, "submit", errors.New(errors.ValidationFailed, "server.submit", err))
		return
	}
	ctx := r.Context()
	key := sessionKey(r)

	if isBinary(r.Header.Get("Content-Type")) {
		ref, err := s.exec.Upload(ctx, key, body)
		if err != nil {
			s.writeError(w, "upload", err)
			return
		}
		s.writeID(w, "upload", ref)
		return
	}

	if kind := command.Kind(mux.Vars(r)["command"]); kind != "" {
		if !kind.Valid() {
			s.writeError(w, "submit", errors.Newf(errors.ValidationFailed, "server.submit", "unknown command %q", kind))
			return
		}
		if got, err := codec.KindOf(body); err == nil && got != kind {
			s.writeError(w, "submit", errors.Newf(errors.ValidationFailed, "server.submit", "%s envelope posted to /%s", got, kind))
			return
		}
	}

	res, err := s.exec.Submit(ctx, key, body)
	if err != nil {
		s.writeError(w, "submit", err)
		return
	}
	if !res.HasValue {
		s.writeID(w, "submit", res.Reference)
		return
	}
	data, err := codec.MarshalValue(res.Value)
	if err != nil {
		s.writeError(w, "submit", errors.New(errors.ExecutionFailed, "server.submit", err))
		return
	}
	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	s.metrics.RecordRequest("http", "submit", "200")
}

// handleFetch returns the value of a reference, waiting while it is pending.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, err := s.exec.Fetch(r.Context(), command.Reference(id))
	if err != nil {
		s.writeError(w, "fetch", err)
		return
	}
	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.cbor", id))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	s.metrics.RecordRequest("http", "fetch", "200")
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := command.Reference(mux.Vars(r)["id"])
	if !s.exec.Release(r.Context(), id) {
		s.writeError(w, "release", errors.Newf(errors.ReferenceNotFound, "server.release", "reference %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.metrics.RecordRequest("http", "release", "204")
}

func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	n := s.exec.ReleaseSession(r.Context(), mux.Vars(r)["session"])
	s.writeJSON(w, "release_session", http.StatusOK, map[string]int{"released": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, "health", http.StatusOK, map[string]any{
		"status":     "ok",
		"references": s.exec.Len(),
	})
}

func (s *Server) writeID(w http.ResponseWriter, op string, ref command.Reference) {
	w.Header().Set("Content-Type", contentTypeID)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, string(ref))
	s.metrics.RecordRequest("http", op, "200")
}

func (s *Server) writeJSON(w http.ResponseWriter, op string, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
	s.metrics.RecordRequest("http", op, strconv.Itoa(status))
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := StatusOf(errors.KindOf(err))
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: %v", op, err)
	} else {
		log.Debugf("%s: %v", op, err)
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	w.Write(errors.Marshal(err))
	s.metrics.RecordRequest("http", op, strconv.Itoa(status))
}

func isBinary(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == contentTypeBinary
}
