package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/gitping-dev/gitping/pkg/security"
)

const maxPayloadSize = 1 << 20 // 1MB

// Processor receives a verified webhook delivery for pipeline processing
// after the HTTP response has been committed.
type Processor interface {
	ProcessAsync(eventType, deliveryID string, payload map[string]any)
}

// Handler receives GitHub webhook deliveries, authenticates them, and hands
// them off to the notification pipeline. The HTTP response acknowledges
// receipt only; delivery outcomes are observable via logs, never via the
// webhook response.
type Handler struct {
	verifier    *Verifier
	processor   Processor
	ipValidator *security.GitHubIPValidator
	log         *slog.Logger
}

// NewHandler creates a webhook handler. ipValidator may be nil to accept
// deliveries from any source address.
func NewHandler(verifier *Verifier, processor Processor, ipValidator *security.GitHubIPValidator, log *slog.Logger) *Handler {
	return &Handler{
		verifier:    verifier,
		processor:   processor,
		ipValidator: ipValidator,
		log:         log,
	}
}

// ServeHTTP processes one GitHub webhook delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")     //nolint:canonicalheader // GitHub webhook header
	deliveryID := r.Header.Get("X-GitHub-Delivery") //nolint:canonicalheader // GitHub webhook header
	signature := r.Header.Get("X-Hub-Signature-256")

	if eventType == "" || deliveryID == "" || signature == "" {
		h.log.Warn("webhook rejected: missing required headers",
			"event_type", eventType,
			"delivery_id", deliveryID,
			"signature_present", signature != "",
			"remote_addr", r.RemoteAddr)
		writeJSONError(w, http.StatusBadRequest, "missing required headers")
		return
	}

	if h.ipValidator != nil {
		ip := security.ClientIP(r)
		if !h.ipValidator.IsValid(ip) {
			h.log.Warn("webhook rejected: source IP not in GitHub ranges",
				"ip", ip, "delivery_id", deliveryID)
			writeJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	// Check content length before reading
	if r.ContentLength > maxPayloadSize {
		h.log.Warn("webhook rejected: payload too large",
			"content_length", r.ContentLength,
			"max_size", maxPayloadSize,
			"delivery_id", deliveryID)
		writeJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		h.log.Error("error reading webhook body", "error", err, "delivery_id", deliveryID)
		writeJSONError(w, http.StatusBadRequest, "bad request")
		return
	}

	if !h.verifier.Valid(body, signature) {
		h.log.Warn("webhook rejected: signature verification failed",
			"delivery_id", deliveryID,
			"event_type", eventType,
			"remote_addr", r.RemoteAddr)
		writeJSONError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	rawJSON, err := decodeDeliveryBody(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.log.Warn("webhook rejected: undecodable body",
			"error", err, "delivery_id", deliveryID, "event_type", eventType)
		writeJSONError(w, http.StatusBadRequest, "bad request")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(rawJSON, &payload); err != nil {
		h.log.Warn("webhook rejected: invalid JSON payload",
			"error", err, "delivery_id", deliveryID, "event_type", eventType,
			"payload_size", len(body))
		writeJSONError(w, http.StatusBadRequest, "bad request")
		return
	}

	// Hand off before responding; delivery runs detached and its failures
	// never change this response.
	h.processor.ProcessAsync(eventType, deliveryID, payload)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	h.log.Info("webhook accepted",
		"event_type", eventType,
		"delivery_id", deliveryID,
		"payload_size", len(body))
}

// decodeDeliveryBody returns the JSON document carried by a webhook body.
// GitHub sends either raw JSON or a form-urlencoded body whose "payload"
// field holds URL-encoded JSON, depending on the hook's content type.
func decodeDeliveryBody(contentType string, body []byte) ([]byte, error) {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	if mediaType != "application/x-www-form-urlencoded" {
		return body, nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	doc := form.Get("payload")
	if doc == "" {
		return nil, errMissingPayloadField
	}
	return []byte(doc), nil
}

var errMissingPayloadField = errors.New("form body missing payload field")

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(body) //nolint:errcheck // Response already committed
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// HasRepository reports whether a payload carries a repository object.
// Deliveries without one (zen pings aside) have no processable shape.
func HasRepository(payload map[string]any) bool {
	_, ok := payload["repository"].(map[string]any)
	return ok
}
