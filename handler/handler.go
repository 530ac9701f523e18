package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"wattsup/internal/domain"
	"wattsup/internal/usecase"
)

const (
	correlationHeader    = "X-Correlation-Id"
	maxReadings          = 3
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type Predictor interface {
	PredictBill(ctx context.Context, in usecase.PredictInput) (usecase.PredictOutput, error)
	LastPrediction(ctx context.Context, sessionID string) (usecase.PredictOutput, error)
}

type Responder interface {
	Respond(ctx context.Context, in usecase.RespondInput) (usecase.RespondOutput, error)
	History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)
}

// Handler serves the bill prediction and chat routes behind an API Gateway
// proxy integration.
type Handler struct {
	predictor Predictor
	responder Responder
	logger    *slog.Logger
}

type readingRequest struct {
	Units float64 `json:"units"`
	Bill  float64 `json:"bill"`
}

type predictRequest struct {
	SessionID string           `json:"sessionId"`
	Readings  []readingRequest `json:"readings"`
}

type predictResponse struct {
	SessionID      string               `json:"sessionId"`
	PredictedUnits int                  `json:"predictedUnits"`
	PredictedBill  float64              `json:"predictedBill"`
	Series         []domain.SeriesPoint `json:"series"`
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID  string  `json:"sessionId"`
	Reply      string  `json:"reply"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Route      string  `json:"route"`
}

type turnResponse struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type historyResponse struct {
	SessionID string         `json:"sessionId"`
	Turns     []turnResponse `json:"turns"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHandler(p Predictor, r Responder) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: predictor must not be nil")
	}
	if r == nil {
		return nil, errors.New("handler: responder must not be nil")
	}
	return &Handler{predictor: p, responder: r, logger: slog.Default()}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req)
	log := h.logger.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	var (
		status int
		body   any
		err    error
	)
	switch path.Base(strings.TrimRight(req.Path, "/")) {
	case "predict":
		status, body, err = h.predict(ctx, req)
	case "chat":
		status, body, err = h.chat(ctx, req)
	default:
		return h.errorJSON(corrID, http.StatusNotFound, string(usecase.ErrorNotFound), "Not found."), nil
	}
	if err != nil {
		return h.fromError(log, corrID, err), nil
	}
	return h.json(corrID, status, body), nil
}

func (h *Handler) predict(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	switch req.HTTPMethod {
	case http.MethodPost:
		var in predictRequest
		if err := decodeBody(req, &in); err != nil {
			return 0, nil, err
		}
		if len(in.Readings) > maxReadings {
			return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "too_many_readings"}
		}
		readings := make([]domain.HistoricalReading, 0, len(in.Readings))
		for _, r := range in.Readings {
			readings = append(readings, domain.HistoricalReading{Units: r.Units, Bill: r.Bill})
		}
		out, err := h.predictor.PredictBill(ctx, usecase.PredictInput{SessionID: in.SessionID, Readings: readings})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toPredictResponse(out), nil
	case http.MethodGet:
		out, err := h.predictor.LastPrediction(ctx, req.QueryStringParameters["sessionId"])
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toPredictResponse(out), nil
	default:
		return 0, nil, errMethod
	}
}

func (h *Handler) chat(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	switch req.HTTPMethod {
	case http.MethodPost:
		var in chatRequest
		if err := decodeBody(req, &in); err != nil {
			return 0, nil, err
		}
		out, err := h.responder.Respond(ctx, usecase.RespondInput{SessionID: in.SessionID, Message: in.Message})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, chatResponse{
			SessionID:  out.SessionID,
			Reply:      out.Reply,
			Intent:     string(out.Intent),
			Confidence: out.Confidence,
			Route:      string(out.Route),
		}, nil
	case http.MethodGet:
		sessionID := strings.TrimSpace(req.QueryStringParameters["sessionId"])
		turns, err := h.responder.History(ctx, sessionID)
		if err != nil {
			return 0, nil, err
		}
		resp := historyResponse{SessionID: sessionID, Turns: make([]turnResponse, 0, len(turns))}
		for _, t := range turns {
			resp.Turns = append(resp.Turns, turnResponse{Role: string(t.Role), Text: t.Text, CreatedAt: t.CreatedAt})
		}
		return http.StatusOK, resp, nil
	default:
		return 0, nil, errMethod
	}
}

func toPredictResponse(out usecase.PredictOutput) predictResponse {
	return predictResponse{
		SessionID:      out.SessionID,
		PredictedUnits: out.PredictedUnits,
		PredictedBill:  out.PredictedBill,
		Series:         out.Series,
	}
}

var errMethod = errors.New("handler: method not allowed")

func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
		}
		raw = decoded
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: errors.New("trailing data after JSON body")}
	}
	return nil
}

func (h *Handler) fromError(log *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	if errors.Is(err, errMethod) {
		return h.errorJSON(corrID, http.StatusMethodNotAllowed, codeMethodNotAllowed, "Method not allowed.")
	}

	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error("request failed", "err", err)
		return h.errorJSON(corrID, http.StatusInternalServerError, string(usecase.ErrorInternal), userMessage(usecase.ErrorInternal, ""))
	}

	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		log.Info("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return h.errorJSON(corrID, status, string(ucErr.Code), userMessage(ucErr.Code, ucErr.Reason))
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var reasonMessages = map[string]string{
	"invalid_body":         "The request body must be a valid JSON object.",
	"too_many_readings":    "Send at most three monthly readings, oldest first.",
	"message_too_long":     "Your message is too long. Please shorten it and try again.",
	"missing_session_id":   "A sessionId query parameter is required.",
	"session_id_too_long":  "The sessionId is too long.",
	"prediction_not_found": "No prediction has been made in this session yet.",
}

// userMessage returns fixed text for a failure; raw errors never reach the
// caller.
func userMessage(code usecase.ErrorCode, reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	switch code {
	case usecase.ErrorInvalidInput:
		return "The request is invalid."
	case usecase.ErrorNotFound:
		return "Not found."
	case usecase.ErrorModelUnavailable:
		return "No trained model found. Train the bill model first."
	default:
		return "Something went wrong on our side. Please try again."
	}
}

func (h *Handler) json(corrID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("marshal response", "correlation_id", corrID, "err", err)
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR","message":"Something went wrong on our side. Please try again."}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}

func (h *Handler) errorJSON(corrID string, status int, code, message string) events.APIGatewayProxyResponse {
	return h.json(corrID, status, errorResponse{Error: code, Message: message})
}

// correlationID returns the caller's correlation id, the gateway request id,
// or a fresh one, in that order.
func correlationID(req events.APIGatewayProxyRequest) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if id := strings.TrimSpace(req.RequestContext.RequestID); id != "" {
		return id
	}
	return uuid.NewString()
}
