package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/firmware"
	"github.com/omzlo/nocan-node-manager/internal/nodes"
)

func (s *Server) listNodes(w http.ResponseWriter, _ *http.Request) {
	list := s.nodes.List()
	ids := make([]int, 0, len(list))
	for _, n := range list {
		ids = append(ids, int(n.ID))
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) showNode(w http.ResponseWriter, r *http.Request) {
	node, ok := s.lookupNode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// commandNode runs the system command named by the "c" form value.
func (s *Server) commandNode(w http.ResponseWriter, r *http.Request) {
	node, ok := s.lookupNode(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}

	command := r.Form.Get("c")
	var err error
	switch command {
	case "ping":
		err = s.firmware.Ping(r.Context(), node.ID)
	case "reboot":
		err = s.firmware.Reboot(r.Context(), node.ID)
	default:
		writeError(w, http.StatusBadRequest, "unknown command")
		return
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"node": node.ID, "command": command, "status": "ok"})
	case errors.Is(err, firmware.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Warn("node command failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Uint8("node", node.ID),
			zap.String("command", command),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

// lookupNode resolves the {node} URL parameter, writing a 404 on failure.
func (s *Server) lookupNode(w http.ResponseWriter, r *http.Request) (nodes.Node, bool) {
	node, err := s.nodes.Lookup(chi.URLParam(r, "node"))
	if err != nil {
		if errors.Is(err, nodes.ErrInvalidUDID) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusNotFound, "node does not exist")
		}
		return nodes.Node{}, false
	}
	return node, true
}
