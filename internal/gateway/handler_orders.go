package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/orders"
	"github.com/petrijr/orderflow/pkg/api"
)

const maxBodyBytes = 1 << 20

// scheduledResponse is the 202 body returned for an accepted order.
type scheduledResponse struct {
	InstanceID     string `json:"instanceId"`
	StatusQueryURI string `json:"statusQueryUri"`
}

type statusResponse struct {
	Status    api.Status      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind api.ErrorKind   `json:"errorKind,omitempty"`
}

func (s *Server) HandleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var order orders.OrderPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&order); err != nil {
		respondWithText(w, http.StatusBadRequest, "invalid order payload: "+err.Error())
		return
	}
	s.scheduleOrder(w, r, order)
}

// HandleSubmitOrderQuery accepts the order as query parameters
// name, quantity and totalCost.
func (s *Server) HandleSubmitOrderQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order := orders.OrderPayload{Name: q.Get("name")}

	if v := q.Get("quantity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondWithText(w, http.StatusBadRequest, "quantity must be an integer")
			return
		}
		order.Quantity = n
	}
	if v := q.Get("totalCost"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondWithText(w, http.StatusBadRequest, "totalCost must be a number")
			return
		}
		order.TotalCost = f
	}
	s.scheduleOrder(w, r, order)
}

func (s *Server) scheduleOrder(w http.ResponseWriter, r *http.Request, order orders.OrderPayload) {
	if err := order.Validate(); err != nil {
		respondWithText(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.engine.CreateInstance(r.Context(), orders.WorkflowName, order)
	if err != nil {
		s.logger.Error("error scheduling order",
			zap.String("instance", id),
			zap.String("item", order.Name),
			zap.Error(err),
		)
		respondWithText(w, http.StatusInternalServerError, "order could not be scheduled")
		return
	}

	statusURI := fmt.Sprintf("/orders/%s/status", id)
	w.Header().Set("Location", statusURI)
	respondWithJSON(w, http.StatusAccepted, scheduledResponse{
		InstanceID:     id,
		StatusQueryURI: statusURI,
	})
}

func (s *Server) HandleOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["instanceId"]

	inst, err := s.engine.GetStatus(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, id, err)
		return
	}

	resp := statusResponse{Status: inst.Status}
	if inst.Status.IsTerminal() {
		resp.Result = inst.Result
	}
	if inst.Status == api.StatusFailed {
		resp.Error = inst.Error
		resp.ErrorKind = inst.ErrorKind
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleOrderHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["instanceId"]

	events, err := s.engine.History(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, id, err)
		return
	}
	respondWithJSON(w, http.StatusOK, events)
}

func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) respondLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, api.ErrInstanceNotFound) {
		respondWithText(w, http.StatusNotFound, "instance not found")
		return
	}
	s.logger.Error("error reading instance", zap.String("instance", id), zap.Error(err))
	respondWithText(w, http.StatusInternalServerError, "instance could not be read")
}
