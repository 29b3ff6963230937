package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/qubic/hive-streamer/entities"
)

type StatusProvider interface {
	GetLastProcessedBlock() (uint64, error)
}

type ContractLister interface {
	Names() []string
}

type Handler struct {
	sp        StatusProvider
	contracts ContractLister
}

type StatusResponse struct {
	LastBlockNumber uint64   `json:"lastBlockNumber"`
	Contracts       []string `json:"contracts"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func NewHandler(sp StatusProvider, contracts ContractLister) *Handler {
	return &Handler{sp: sp, contracts: contracts}
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(HealthResponse{
		Status: "UP",
	})
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Error encoding response", 500)
		return
	}
}

// GetStatus reports block 0 until the first block was processed.
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	lastBlock, err := h.sp.GetLastProcessedBlock()
	if err != nil && !errors.Is(err, entities.ErrStoreEntityNotFound) {
		log.Printf("Error getting last processed block: %v", err)
		http.Error(w, "Error getting last processed block", 500)
		return
	}

	contracts := h.contracts.Names()
	if contracts == nil {
		contracts = []string{}
	}

	w.Header().Add("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(StatusResponse{
		LastBlockNumber: lastBlock,
		Contracts:       contracts,
	})
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Error encoding response", 500)
		return
	}
}
