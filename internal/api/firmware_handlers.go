package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/firmware"
	"github.com/omzlo/nocan-node-manager/internal/firmware/intelhex"
	"github.com/omzlo/nocan-node-manager/internal/jobs"
)

// firmwareTarget resolves the node and memory of a firmware route, writing an
// error reply when either is unusable.
func (s *Server) firmwareTarget(w http.ResponseWriter, r *http.Request) (uint8, firmware.MemoryType, bool) {
	node, ok := s.lookupNode(w, r)
	if !ok {
		return 0, 0, false
	}
	if node.ID == 0 {
		writeError(w, http.StatusNotFound, firmware.ErrReservedNode.Error())
		return 0, 0, false
	}
	mem, err := firmware.ParseMemoryType(chi.URLParam(r, "memory"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return 0, 0, false
	}
	return node.ID, mem, true
}

func (s *Server) downloadFirmware(w http.ResponseWriter, r *http.Request) {
	node, mem, ok := s.firmwareTarget(w, r)
	if !ok {
		return
	}

	var size uint32
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "incorrect size parameter")
			return
		}
		size = uint32(parsed)
	}

	job, err := s.firmware.StartDownload(node, mem, size)
	s.accepted(w, r, job, err)
}

func (s *Server) uploadFirmware(w http.ResponseWriter, r *http.Request) {
	node, mem, ok := s.firmwareTarget(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	file, header, err := r.FormFile("firmware")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	defer file.Close()

	img, err := intelhex.Decode(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse firmware: "+err.Error())
		return
	}
	for _, warning := range img.Warnings {
		s.logger.Warn("firmware file warning", zap.String("file", header.Filename), zap.String("warning", warning))
	}
	s.logger.Debug("received firmware",
		zap.String("file", header.Filename),
		zap.Int("bytes", img.Size()),
		zap.Uint8("node", node),
		zap.Stringer("memory", mem),
	)

	job, err := s.firmware.StartUpload(node, mem, img)
	s.accepted(w, r, job, err)
}

// accepted answers a job submission: 202 with the status URL in Location, or
// the error mapped to a status code.
func (s *Server) accepted(w http.ResponseWriter, r *http.Request, job *jobs.Job, err error) {
	switch {
	case err == nil:
	case errors.Is(err, firmware.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, firmware.ErrSizeExceeded), errors.Is(err, firmware.ErrUnaligned):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, firmware.ErrReservedNode):
		writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		s.logger.Error("start firmware job", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/jobs/%d", job.ID()))
	w.WriteHeader(http.StatusAccepted)
}
