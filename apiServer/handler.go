package apiServer

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/arvht/chainkey/pkg/auth"
)

type registerDeviceReq struct {
	UserID          string `json:"user_id"`
	DeviceID        string `json:"device_id"`
	DevicePublicKey string `json:"device_public_key"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) { // PH
	var req registerDeviceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	publicKey, err := base64.StdEncoding.DecodeString(req.DevicePublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device_public_key encoding")
		return
	}

	device, err := s.ck.RegisterDevice(r.Context(), req.UserID, req.DeviceID, publicKey)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	// Confirmation echo.
	writeJSON(w, http.StatusOK, map[string]string{
		"device_id":         device.DeviceID,
		"device_public_key": base64.StdEncoding.EncodeToString(device.PublicKey),
	})
}

type grantReq struct {
	FileID    string   `json:"file_id"`
	UserID    string   `json:"user_id"`
	Grantee   string   `json:"grantee"`
	Expiry    int64    `json:"expiry"`
	DeviceIDs []string `json:"device_ids"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) { // PH
	var req grantReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	grant, err := s.ck.GrantAccess(r.Context(), req.FileID, req.UserID, req.Grantee, req.Expiry, req.DeviceIDs)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

type revokeReq struct {
	FileID  string `json:"file_id"`
	UserID  string `json:"user_id"`
	Grantee string `json:"grantee"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) { // PH
	var req revokeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.ck.RevokeAccess(r.Context(), req.FileID, req.UserID, req.Grantee); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type uploadReq struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) { // PH
	var req uploadReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid content encoding")
		return
	}

	receipt, err := s.ck.StoreFileKey(r.Context(), req.UserID, content)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":  receipt.FileID,
		"block_id": receipt.Block.Index,
	})
}

type shareReq struct {
	FileID    string   `json:"file_id"`
	UserID    string   `json:"user_id"`
	Grantee   string   `json:"grantee"`
	Expiry    int64    `json:"expiry"`
	DeviceIDs []string `json:"device_ids"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) { // PH
	var req shareReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	block, err := s.ck.ShareFileKey(r.Context(), req.UserID, req.Grantee, req.FileID, req.Expiry, req.DeviceIDs)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":  req.FileID,
		"block_id": block.Index,
		"grantee":  req.Grantee,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) { // PHP
	fileID := mux.Vars(r)["file_id"]
	query := r.URL.Query()

	timestamp, err := strconv.ParseInt(query.Get("timestamp"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	signature, err := base64.StdEncoding.DecodeString(query.Get("device_signature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device_signature encoding")
		return
	}

	req := auth.Request{
		FileID:    fileID,
		UserID:    query.Get("user_id"),
		Timestamp: timestamp,
		Signature: signature,
		DeviceID:  query.Get("device_id"),
	}

	keyMaterial, err := s.ck.AuthorizeDownload(r.Context(), req)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"file_id":      fileID,
		"key_material": base64.StdEncoding.EncodeToString(keyMaterial),
	})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) { // PH
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	blocks, err := s.ck.ChainBlocks(r.Context(), userID)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"chain":   blocks,
	})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) { // PH
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	w.Header().Set("Content-Type", "application/x-xz")
	if err := s.ck.ExportChain(r.Context(), userID, w); err != nil {
		s.log.Error("chain export failed", "user", userID, "error", err)
	}
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) { // PH
	user, err := s.ck.RestoreChain(r.Context(), r.Body)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored", "user_id": user})
}
