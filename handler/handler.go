package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"quickstart-agent/internal/app"
	"quickstart-agent/internal/auth"
	"quickstart-agent/internal/domain"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20

	codeInvalidActivity  = string(app.ErrorInvalidActivity)
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	codePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	codeUnauthorized     = "UNAUTHORIZED"
	codeUpstream         = "UPSTREAM_ERROR"
	codeInternal         = "INTERNAL_ERROR"
)

// TurnProcessor runs one turn for an inbound activity.
type TurnProcessor interface {
	Process(ctx context.Context, activity domain.Activity) (app.TurnResult, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
}

type Handler struct {
	processor TurnProcessor
	verifier  auth.TokenVerifier
	logger    *slog.Logger
}

func NewHandler(p TurnProcessor, v auth.TokenVerifier) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: processor must not be nil")
	}
	if v == nil {
		return nil, errors.New("handler: verifier must not be nil")
	}
	return &Handler{processor: p, verifier: v, logger: slog.Default()}, nil
}

// WithLogger replaces the handler's logger.
func (h *Handler) WithLogger(l *slog.Logger) *Handler {
	if l != nil {
		h.logger = l
	}
	return h
}

// Handle serves one activity delivered through API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	if req.HTTPMethod != http.MethodPost {
		return errorResult(http.StatusMethodNotAllowed, codeMethodNotAllowed, correlationID), nil
	}

	claims, err := h.verifier.Verify(ctx, bearerToken(headerValue(req.Headers, "Authorization")))
	if err != nil {
		logger.WarnContext(ctx, "rejected inbound request", "err", err)
		return errorResult(http.StatusUnauthorized, codeUnauthorized, correlationID), nil
	}

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return errorResult(http.StatusBadRequest, codeInvalidActivity, correlationID), nil
		}
		body = string(decoded)
	}
	if len(body) > maxBodyBytes {
		logger.WarnContext(ctx, "activity body too large", "bytes", len(body))
		return errorResult(http.StatusRequestEntityTooLarge, codePayloadTooLarge, correlationID), nil
	}

	var activity domain.Activity
	if err := json.Unmarshal([]byte(body), &activity); err != nil {
		logger.WarnContext(ctx, "invalid activity body", "err", err)
		return errorResult(http.StatusBadRequest, codeInvalidActivity, correlationID), nil
	}

	if claims.ServiceURL != "" && !sameServiceURL(claims.ServiceURL, activity.ServiceURL) {
		logger.WarnContext(ctx, "service url does not match token",
			"token_service_url", claims.ServiceURL, "activity_service_url", activity.ServiceURL)
		return errorResult(http.StatusUnauthorized, codeUnauthorized, correlationID), nil
	}

	logger = logger.With("activity_type", activity.Type, "conversation_id", activity.Conversation.ID)
	result, err := h.processor.Process(ctx, activity)
	if err != nil {
		status, code := mapError(err)
		logger.ErrorContext(ctx, "turn failed", "status", status, "err", err)
		return errorResult(status, code, correlationID), nil
	}

	if !result.ExpectReplies {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{correlationHeader: correlationID},
		}, nil
	}

	replies := result.Replies
	if replies == nil {
		replies = []domain.Activity{}
	}
	return jsonResult(http.StatusOK, domain.ExpectedReplies{Activities: replies}, correlationID), nil
}

// ServeHTTP adapts a plain HTTP request so the same path serves local runs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		status, code := http.StatusBadRequest, codeInvalidActivity
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status, code = http.StatusRequestEntityTooLarge, codePayloadTooLarge
		}
		correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		writeResult(w, errorResult(status, code, correlationID))
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	resp, _ := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       string(body),
	})
	writeResult(w, resp)
}

func writeResult(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func mapError(err error) (int, string) {
	var appErr *app.Error
	if errors.As(err, &appErr) {
		if appErr.Code == app.ErrorInvalidActivity {
			return http.StatusBadRequest, codeInvalidActivity
		}
		return http.StatusInternalServerError, codeInternal
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		return http.StatusUnauthorized, codeUnauthorized
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		return http.StatusBadGateway, codeUpstream
	}
	return http.StatusInternalServerError, codeInternal
}

func errorResult(status int, code, correlationID string) events.APIGatewayProxyResponse {
	return jsonResult(status, errorResponse{Error: code, CorrelationID: correlationID}, correlationID)
}

func jsonResult(status int, v any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

// headerValue looks a header up case-insensitively; API Gateway preserves
// whatever casing the client sent.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func sameServiceURL(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}
