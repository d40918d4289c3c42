package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"eauharvest/internal/services/scheduler"
)

type BadResponse struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

func doBadResponseAndLog(w http.ResponseWriter, statusCode int, message string) {
	log.Warn().Int("status", statusCode).Str("message", message).Msg("Bad response")
	doJSONResponse(w, BadResponse{Status: statusCode, Text: message}, statusCode)
}

func doJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func responseErrorAndLog(w http.ResponseWriter, err error, funcName string) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		doBadResponseAndLog(w, http.StatusNotFound, "job not found")
	default:
		log.Error().Err(err).Str("function", funcName).Msg("Request failed")
		doJSONResponse(w, BadResponse{Status: http.StatusInternalServerError, Text: "internal error"}, http.StatusInternalServerError)
	}
}
