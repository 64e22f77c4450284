package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"stashbin/cfg"
	"stashbin/pkg/domain"
	"stashbin/svc/svc"
	"stashbin/svc/util"
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

// CreatePaste accepts the paste body in three shapes: a raw text/plain
// stream, a form with a paste field, or JSON {"content": ...}. The declared
// Content-Length is checked against the ceiling before the body is read at
// all, so an oversized upload costs nothing.
func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())

	declared := r.ContentLength
	if declared < 0 {
		log.Warn().Msg("missing Content-Length on POST")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	// Form and JSON bodies carry encoding overhead on top of the content,
	// hence the slack; the service enforces the exact ceiling.
	if declared > h.cfg.MaxPasteSize*2 {
		log.Warn().Int64("content_length", declared).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPasteSize*2)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		log.Warn().Str("content_type", r.Header.Get("Content-Type")).Msg("invalid Content-Type header")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	var result *domain.CreateResult
	switch mediaType {
	case "text/plain":
		result, err = h.paste.Create(r.Context(), r.Body, declared)
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			log.Warn().Err(err).Msg("invalid form body")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		content := r.PostFormValue("paste")
		result, err = h.paste.Create(r.Context(), strings.NewReader(content), int64(len(content)))
	case "application/json":
		var req struct {
			Content string `json:"content"`
		}
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if decErr := dec.Decode(&req); decErr != nil {
			if decErr == io.EOF {
				log.Warn().Msg("empty request body")
			} else {
				log.Warn().Err(decErr).Msg("invalid request")
			}
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		result, err = h.paste.Create(r.Context(), strings.NewReader(req.Content), int64(len(req.Content)))
	default:
		log.Warn().Str("content_type", mediaType).Msg("unsupported Content-Type")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected text/plain, form, or application/json",
			"request_id": requestID,
		})
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to create paste")
		if errors.Is(err, domain.ErrPasteTooLarge) ||
			errors.Is(err, domain.ErrContentRequired) ||
			errors.Is(err, domain.ErrIDGenerationFailed) ||
			errors.Is(err, domain.ErrStorageUnavailable) {
			writeErr(w, err, requestID)
			return
		}
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", result.ID).
		Int64("ttl", result.TTL).
		Msg("paste created")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// GetPaste serves the stored content as text/plain, or wrapped in JSON when
// the client asks for application/json.
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")

	content, err := h.paste.Retrieve(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("paste_id", id).Msg("retrieve failed")
		if errors.Is(err, domain.ErrInvalidID) ||
			errors.Is(err, domain.ErrPasteNotFound) ||
			errors.Is(err, domain.ErrStorageUnavailable) {
			writeErr(w, err, requestID)
			return
		}
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Int("size", len(content)).
		Msg("paste retrieved")
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"paste": string(content)})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(content)
}

// RemovePaste deletes a paste given its id and deletion key. Whatever went
// wrong, the caller sees one generic message.
func (h *Hdl) RemovePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("invalid form body")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	id := r.PostFormValue("paste_id")
	key := r.PostFormValue("paste_key")

	if err := h.paste.Delete(r.Context(), id, key); err != nil {
		if errors.Is(err, domain.ErrInvalidIDOrKey) {
			writeErr(w, domain.ErrInvalidIDOrKey, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("failed to delete paste")
		if errors.Is(err, domain.ErrStorageUnavailable) {
			writeErr(w, err, requestID)
			return
		}
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"success": "Paste " + id + " removed",
	})
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 && statusCode != http.StatusServiceUnavailable {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
