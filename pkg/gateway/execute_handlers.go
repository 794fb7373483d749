package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/audit"
	"github.com/DeBrosOfficial/hyperdrive/pkg/consensus"
	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/go-chi/chi/v5"
)

// maxExecuteBody bounds the request body of /v1/execute.
const maxExecuteBody = 8 << 20

// executeRequest is the wire form of provider.Operation. Payload is base64
// in JSON.
type executeRequest struct {
	Kind           string   `json:"kind"`
	Category       string   `json:"category"`
	TargetID       string   `json:"target_id"`
	Payload        []byte   `json:"payload"`
	IdempotencyKey string   `json:"idempotency_key"`
	Replication    string   `json:"replication"` // none, best_effort or quorum
	Replicas       int      `json:"replicas"`
	Required       int      `json:"required"` // defaults to a strict majority
	Timeout        string   `json:"timeout"`  // Go duration, e.g. "2s"
	VerifiedRead   bool     `json:"verified_read"`
	Providers      []string `json:"providers"`
}

func (req executeRequest) operation() (provider.Operation, error) {
	kind, err := provider.ParseOperationKind(req.Kind)
	if err != nil {
		return provider.Operation{}, errors.NewValidationError("kind", err.Error(), req.Kind)
	}
	op := provider.Operation{
		Kind:           kind,
		TargetID:       req.TargetID,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		VerifiedRead:   req.VerifiedRead,
		Providers:      req.Providers,
	}

	if req.Category != "" {
		c, err := provider.ParseCategory(req.Category)
		if err != nil {
			return provider.Operation{}, errors.NewValidationError("category", err.Error(), req.Category)
		}
		op.Category = c
	}

	mode, err := provider.ParseReplication(req.Replication, req.Replicas, req.Required)
	if err != nil {
		return provider.Operation{}, err
	}
	op.Replication = mode

	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			return provider.Operation{}, errors.NewValidationError("timeout", err.Error(), req.Timeout)
		}
		op.Timeout = d
	}
	return op, nil
}

// executeHandler runs one operation. The body is always the result
// envelope; the status follows the error kind.
func (g *Gateway) executeHandler(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExecuteBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, errors.NewValidationError("body", "invalid JSON body: "+err.Error(), nil))
		return
	}

	op, err := req.operation()
	if err != nil {
		writeError(w, r, err)
		return
	}

	res := g.mgr.Execute(r.Context(), op)
	writeJSON(w, errors.StatusCode(res.Err()), res)
}

func (g *Gateway) conflictsHandler(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	records, err := g.mgr.GetConflicts(r.Context(), target)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "read conflicts"))
		return
	}
	if records == nil {
		records = []consensus.ConflictRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"target_id": target, "conflicts": records})
}

func (g *Gateway) lateRepliesHandler(w http.ResponseWriter, r *http.Request) {
	if g.audit == nil {
		writeError(w, r, errors.NewServiceError("audit", "audit log is not configured", 0, nil))
		return
	}
	target := chi.URLParam(r, "target")
	replies, err := g.audit.LateReplies(r.Context(), target)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "read late replies"))
		return
	}
	if replies == nil {
		replies = []audit.LateReply{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"target_id": target, "late": replies})
}
