package acl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ContractStore is the external ACL backend. It talks to a
// contract-gateway service that mirrors the access-control smart
// contract: setOwner, grant, revoke, isAllowed. The gateway enforces
// ownership on its side; a 403 maps to ErrNotOwner.
type ContractStore struct {
	baseURL string
	client  *http.Client
}

// NewContractStore creates a client for the gateway at baseURL.
func NewContractStore(baseURL string, client *http.Client) *ContractStore { // A
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ContractStore{
		baseURL: baseURL,
		client:  client,
	}
}

type contractOwnerReq struct {
	FileID string `json:"file_id"`
	Owner  string `json:"owner"`
}

type contractGrantReq struct {
	FileID    string   `json:"file_id"`
	Caller    string   `json:"caller"`
	User      string   `json:"user"`
	Expiry    int64    `json:"expiry"`
	DeviceIDs []string `json:"device_ids"`
}

type contractRevokeReq struct {
	FileID string `json:"file_id"`
	Caller string `json:"caller"`
	User   string `json:"user"`
}

type contractAllowedResp struct {
	Allowed bool `json:"allowed"`
}

// SetOwner registers the file owner on the contract.
func (s *ContractStore) SetOwner(fileID, owner string) error { // A
	return s.post("/acl/owner", contractOwnerReq{FileID: fileID, Owner: owner}, nil)
}

// Grant upserts access on the contract.
func (s *ContractStore) Grant(fileID, caller, grantee string, expiry int64, deviceIDs []string) (Grant, error) { // A
	req := contractGrantReq{
		FileID:    fileID,
		Caller:    caller,
		User:      grantee,
		Expiry:    expiry,
		DeviceIDs: deviceIDs,
	}

	var grant Grant
	if err := s.post("/acl/grant", req, &grant); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// Revoke disables access on the contract.
func (s *ContractStore) Revoke(fileID, caller, grantee string) error { // A
	return s.post("/acl/revoke", contractRevokeReq{FileID: fileID, Caller: caller, User: grantee}, nil)
}

// IsAllowed queries the contract's access predicate.
func (s *ContractStore) IsAllowed(fileID, user, deviceID string) (bool, error) { // A
	query := url.Values{}
	query.Set("file_id", fileID)
	query.Set("user", user)
	if deviceID != "" {
		query.Set("device_id", deviceID)
	}

	resp, err := s.client.Get(s.baseURL + "/acl/allowed?" + query.Encode())
	if err != nil {
		return false, fmt.Errorf("query contract gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("contract gateway returned %s", resp.Status)
	}

	var parsed contractAllowedResp
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("decode contract gateway response: %w", err)
	}
	return parsed.Allowed, nil
}

var _ Store = (*ContractStore)(nil)

func (s *ContractStore) post(path string, payload any, out any) error { // A
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	resp, err := s.client.Post(s.baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("call contract gateway: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return ErrNotOwner
	case http.StatusNotFound:
		return ErrUnknownFile
	default:
		return fmt.Errorf("contract gateway returned %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode contract gateway response: %w", err)
		}
	}
	return nil
}
