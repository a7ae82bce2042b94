package webrtc

import (
	"encoding/json"
	"net/http"
	"sync"
)

// SignalingServer handles WebRTC signaling via HTTP endpoints, one connection
// per interview. In production this would use WebSocket for trickle ICE; the
// candidate client currently gathers candidates before posting the offer, so
// simple POST/DELETE endpoints suffice.
type SignalingServer struct {
	platform *Platform

	mu          sync.Mutex
	connections map[string]*Connection
}

// NewSignalingServer creates a signaling server backed by the given platform.
func NewSignalingServer(platform *Platform) *SignalingServer {
	return &SignalingServer{
		platform:    platform,
		connections: make(map[string]*Connection),
	}
}

// Handler returns an http.Handler that serves the signaling endpoints:
//
//	POST   /interviews/{interviewID}/signal/offer — candidate sends SDP offer, gets SDP answer
//	POST   /interviews/{interviewID}/signal/ice   — candidate sends ICE candidate
//	DELETE /interviews/{interviewID}/signal       — candidate disconnects
func (s *SignalingServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /interviews/{interviewID}/signal/offer", s.handleOffer)
	mux.HandleFunc("POST /interviews/{interviewID}/signal/ice", s.handleICE)
	mux.HandleFunc("DELETE /interviews/{interviewID}/signal", s.handleDisconnect)
	return mux
}

// Lookup returns the live connection for an interview, or nil.
func (s *SignalingServer) Lookup(interviewID string) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections[interviewID]
}

// Shutdown disconnects every live connection.
func (s *SignalingServer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.connections {
		_ = conn.Disconnect()
		delete(s.connections, id)
	}
}

// offerRequest is the JSON body for the offer endpoint.
type offerRequest struct {
	SDPOffer string `json:"sdp_offer"`
}

// offerResponse is the JSON body returned from the offer endpoint.
type offerResponse struct {
	SDPAnswer string `json:"sdp_answer"`
}

// handleOffer handles POST /interviews/{interviewID}/signal/offer.
func (s *SignalingServer) handleOffer(w http.ResponseWriter, r *http.Request) {
	interviewID := r.PathValue("interviewID")

	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SDPOffer == "" {
		http.Error(w, "sdp_offer is required", http.StatusBadRequest)
		return
	}

	conn, err := s.getOrCreate(r, interviewID)
	if err != nil {
		http.Error(w, "failed to create connection: "+err.Error(), http.StatusInternalServerError)
		return
	}

	answer, err := conn.Negotiate(r.Context(), req.SDPOffer)
	if err != nil {
		http.Error(w, "failed to negotiate: "+err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(offerResponse{SDPAnswer: answer})
}

// iceRequest is the JSON body for the ICE candidate endpoint.
type iceRequest struct {
	Candidate string `json:"candidate"`
}

// handleICE handles POST /interviews/{interviewID}/signal/ice.
func (s *SignalingServer) handleICE(w http.ResponseWriter, r *http.Request) {
	interviewID := r.PathValue("interviewID")

	var req iceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conn := s.Lookup(interviewID)
	if conn == nil {
		http.Error(w, "connection not found", http.StatusNotFound)
		return
	}

	if err := conn.AddICECandidate(req.Candidate); err != nil {
		http.Error(w, "failed to add ICE candidate: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleDisconnect handles DELETE /interviews/{interviewID}/signal.
func (s *SignalingServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	interviewID := r.PathValue("interviewID")

	s.mu.Lock()
	conn, ok := s.connections[interviewID]
	delete(s.connections, interviewID)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "connection not found", http.StatusNotFound)
		return
	}

	if err := conn.Disconnect(); err != nil {
		http.Error(w, "failed to disconnect: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// getOrCreate returns the existing Connection for an interview, or creates
// one via the platform. Safe for concurrent use.
func (s *SignalingServer) getOrCreate(r *http.Request, interviewID string) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.connections[interviewID]; ok {
		return conn, nil
	}

	conn, err := s.platform.Connect(r.Context(), interviewID)
	if err != nil {
		return nil, err
	}
	s.connections[interviewID] = conn
	return conn, nil
}
