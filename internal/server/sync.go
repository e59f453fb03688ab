package server

import (
	"net/http"

	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/repl"
	"github.com/MKhiriev/go-doc-sync/internal/utils"
	"github.com/MKhiriev/go-doc-sync/models"
)

// syncHandler upgrades inbound sync connections and runs a passive
// replicator for each of them.
type syncHandler struct {
	deps Deps
}

func newSyncHandler(deps Deps) *syncHandler {
	return &syncHandler{deps: deps}
}

func (h *syncHandler) serve(w http.ResponseWriter, r *http.Request) {
	log := h.deps.Logger

	clientID, ok := h.authenticate(r)
	if !ok {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := blip.Upgrade(w, r)
	if err != nil {
		log.Warn().Err(err).Msg("sync upgrade failed")
		return
	}

	opts := repl.PassiveOptions()
	replicator := repl.NewReplicator(conn, h.deps.Docs, h.deps.Blobs,
		r.RemoteAddr, &passiveDelegate{log: log, clientID: clientID}, opts, log)
	replicator.Start()

	log.Info().Str("client", clientID).Str("addr", r.RemoteAddr).
		Msg("sync session started")
}

// authenticate checks the Authorization header when token auth is
// configured. Servers without a sign key accept anonymous peers.
func (h *syncHandler) authenticate(r *http.Request) (string, bool) {
	if h.deps.App.TokenSignKey == "" {
		return r.RemoteAddr, true
	}

	raw, err := utils.ParseBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return "", false
	}
	token, err := utils.ValidateAndParseJWTToken(raw, h.deps.App.TokenSignKey, h.deps.App.TokenIssuer)
	if err != nil {
		h.deps.Logger.Warn().Err(err).Msg("sync token rejected")
		return "", false
	}
	return token.ClientID, true
}

// passiveDelegate logs what a passive replication session does.
type passiveDelegate struct {
	log      *logger.Logger
	clientID string
}

func (d *passiveDelegate) ReplicatorStatusChanged(_ *repl.Replicator, status models.Status) {
	d.log.Debug().Str("client", d.clientID).Str("level", status.Level.String()).
		Uint64("completed", status.Progress.UnitsCompleted).
		Uint64("total", status.Progress.UnitsTotal).
		Msg("sync session status")
}

func (d *passiveDelegate) ReplicatorDocumentError(_ *repl.Replicator, pushing bool, docID string, err *models.Error, _ bool) {
	d.log.Warn().Str("client", d.clientID).Bool("pushing", pushing).
		Str("docID", docID).Str("error", err.Error()).Msg("sync session document error")
}

func (d *passiveDelegate) ReplicatorConnectionClosed(_ *repl.Replicator, status blip.CloseStatus) {
	d.log.Info().Str("client", d.clientID).Int("code", status.Code).
		Str("message", status.Message).Msg("sync session closed")
}
