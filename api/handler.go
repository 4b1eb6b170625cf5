package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

type Duels interface {
	Settle(duelID string, params entities.AttestationParams) (entities.DuelProgress, error)
	Progress(duelID string) (entities.DuelProgress, error)
	Cancel(duelID string) (entities.DuelProgress, error)
	List() []entities.DuelProgress
}

type HintProvider interface {
	GetStrategyHint(ctx context.Context, prompt string) entities.StrategyHint
	AnalyzeOutcome(ctx context.Context, prompt string) string
}

type RandomSource interface {
	GetRandomNumber(ctx context.Context) (entities.RandomNumber, error)
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string        `json:"error"`
	Step  entities.Step `json:"step,omitempty"`
}

type PricesResponse struct {
	Prices []entities.PriceQuote `json:"prices"`
}

type DuelsResponse struct {
	Duels []entities.DuelProgress `json:"duels"`
}

type PromptRequest struct {
	Prompt string `json:"prompt"`
}

type AnalysisResponse struct {
	Analysis string `json:"analysis"`
}

type RandomResponse struct {
	entities.RandomNumber
	InBonusRange *bool `json:"inBonusRange,omitempty"`
}

type Handler struct {
	duels   Duels
	prices  PriceSource
	feedIDs []string
	known   map[string]string // lower case id -> configured id
	hints   HintProvider
	random  RandomSource
	logger  *zap.SugaredLogger
}

func NewHandler(duels Duels, prices PriceSource, feedIDs []string, hints HintProvider, random RandomSource, logger *zap.SugaredLogger) *Handler {
	known := make(map[string]string, len(feedIDs))
	for _, id := range feedIDs {
		known[strings.ToLower(id)] = id
	}
	return &Handler{
		duels:   duels,
		prices:  prices,
		feedIDs: feedIDs,
		known:   known,
		hints:   hints,
		random:  random,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /v1/prices", h.GetPrices)
	mux.HandleFunc("GET /v1/random", h.GetRandomNumber)
	mux.HandleFunc("GET /v1/duels", h.ListDuels)
	mux.HandleFunc("GET /v1/duels/{id}", h.GetDuel)
	mux.HandleFunc("POST /v1/duels/{id}/settle", h.SettleDuel)
	mux.HandleFunc("DELETE /v1/duels/{id}", h.CancelDuel)
	mux.HandleFunc("POST /v1/hints", h.GetHint)
	mux.HandleFunc("POST /v1/analysis", h.AnalyzeOutcome)
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "UP"})
}

// GetPrices returns the configured feeds, or the subset named by the comma separated
// `feeds` query parameter.
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	feedIDs := h.feedIDs
	if param := r.URL.Query().Get("feeds"); param != "" {
		var err error
		feedIDs, err = h.selectFeeds(param)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	quotes := h.prices.GetPrices(r.Context(), feedIDs)
	h.writeJSON(w, http.StatusOK, PricesResponse{Prices: quotes})
}

// selectFeeds keeps the configured order so equal subsets share a cache entry.
func (h *Handler) selectFeeds(param string) ([]string, error) {
	wanted := make(map[string]bool)
	for _, id := range strings.Split(param, ",") {
		configured, ok := h.known[strings.ToLower(strings.TrimSpace(id))]
		if !ok {
			return nil, errors.Errorf("unknown feed [%s]", id)
		}
		wanted[configured] = true
	}
	selected := make([]string, 0, len(wanted))
	for _, id := range h.feedIDs {
		if wanted[id] {
			selected = append(selected, id)
		}
	}
	return selected, nil
}

func (h *Handler) GetRandomNumber(w http.ResponseWriter, r *http.Request) {
	var chanceBps *int64
	if param := r.URL.Query().Get("chanceBps"); param != "" {
		value, err := strconv.ParseInt(param, 10, 64)
		if err != nil || value < 0 || value > 10000 {
			h.writeError(w, http.StatusBadRequest, errors.Errorf("invalid chanceBps [%s]", param))
			return
		}
		chanceBps = &value
	}

	number, err := h.random.GetRandomNumber(r.Context())
	if err != nil {
		h.logger.Warnw("Error reading random number", "error", err)
		h.writeError(w, http.StatusBadGateway, errors.Wrap(err, "reading random number"))
		return
	}

	response := RandomResponse{RandomNumber: number}
	if chanceBps != nil {
		inRange := number.InBonusRange(*chanceBps)
		response.InBonusRange = &inRange
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) ListDuels(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, DuelsResponse{Duels: h.duels.List()})
}

func (h *Handler) GetDuel(w http.ResponseWriter, r *http.Request) {
	progress, err := h.duels.Progress(r.PathValue("id"))
	if err != nil {
		h.writeError(w, statusOf(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) SettleDuel(w http.ResponseWriter, r *http.Request) {
	var params entities.AttestationParams
	if err := decode(r, &params); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if params.URL == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("missing url"))
		return
	}
	if params.HTTPMethod == "" {
		params.HTTPMethod = http.MethodGet
	}

	duelID := r.PathValue("id")
	progress, err := h.duels.Settle(duelID, params)
	if err != nil {
		h.writeError(w, statusOf(err), err)
		return
	}
	h.logger.Infow("Started duel settlement", "duelId", duelID, "url", params.URL)
	h.writeJSON(w, http.StatusAccepted, progress)
}

func (h *Handler) CancelDuel(w http.ResponseWriter, r *http.Request) {
	progress, err := h.duels.Cancel(r.PathValue("id"))
	if err != nil {
		h.writeError(w, statusOf(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) GetHint(w http.ResponseWriter, r *http.Request) {
	prompt, ok := h.readPrompt(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.hints.GetStrategyHint(r.Context(), prompt))
}

func (h *Handler) AnalyzeOutcome(w http.ResponseWriter, r *http.Request) {
	prompt, ok := h.readPrompt(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, AnalysisResponse{Analysis: h.hints.AnalyzeOutcome(r.Context(), prompt)})
}

func (h *Handler) readPrompt(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req PromptRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("missing prompt"))
		return "", false
	}
	return req.Prompt, true
}

func decode(r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.Wrap(err, "decoding request body")
	}
	return nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, entities.ErrDuelNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrDuelAlreadyTracked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, ErrorResponse{Error: err.Error(), Step: entities.StepOf(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorw("Error encoding response", "error", err)
	}
}
