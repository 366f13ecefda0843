// Package apiServer exposes the key ledger over HTTP: device
// registration, grant/revoke, upload and share of key material, and
// signed download authentication. Transport of the encrypted file
// bytes themselves lives elsewhere.
package apiServer

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	chainkey "github.com/arvht/chainkey"
)

type Server struct {
	router *mux.Router
	ck     *chainkey.ChainKey
	log    *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger overrides the server logger.
func WithLogger(logger *slog.Logger) Option { // HC
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func New(ck *chainkey.ChainKey, opts ...Option) *Server { // A
	s := &Server{
		router: mux.NewRouter(),
		ck:     ck,
		log:    slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() { // AC
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/acl/register_device", s.handleRegisterDevice).Methods("POST")
	api.HandleFunc("/acl/grant", s.handleGrant).Methods("POST")
	api.HandleFunc("/acl/revoke", s.handleRevoke).Methods("POST")
	api.HandleFunc("/upload", s.handleUpload).Methods("POST")
	api.HandleFunc("/share", s.handleShare).Methods("POST")
	api.HandleFunc("/download/{file_id}", s.handleDownload).Methods("GET")
	api.HandleFunc("/blockchain", s.handleChain).Methods("GET")
	api.HandleFunc("/backup", s.handleBackup).Methods("GET")
	api.HandleFunc("/restore", s.handleRestore).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // AC
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.router.ServeHTTP(w, r)
}
