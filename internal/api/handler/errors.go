package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/dbaas/internal/api/response"
	"github.com/edvin/dbaas/internal/core"
)

var kindStatus = map[core.Kind]int{
	core.KindValidation:              http.StatusBadRequest,
	core.KindConflict:                http.StatusConflict,
	core.KindNotFound:                http.StatusNotFound,
	core.KindUnsupported:             http.StatusUnprocessableEntity,
	core.KindExecutionFailure:        http.StatusUnprocessableEntity,
	core.KindAggregatedDeleteFailure: http.StatusBadGateway,
}

// StatusFor returns the HTTP status for an engine error.
func StatusFor(err error) int {
	if status, ok := kindStatus[core.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err as a classified error body. Unclassified
// errors are logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := response.ErrorBody{Error: err.Error()}

	var e *core.Error
	if errors.As(err, &e) {
		body.Code = e.Code
		body.Failures = e.Failures
	} else {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	response.WriteErrorBody(w, status, body)
}
