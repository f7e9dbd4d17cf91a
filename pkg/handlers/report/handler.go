package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/de-tools/hubcost/pkg/adapters"
	"github.com/de-tools/hubcost/pkg/models/domain"
	"github.com/de-tools/hubcost/pkg/services/attribution"
	"github.com/rs/zerolog"
)

// Calculator is the subset of attribution.Calculator the handlers serve.
type Calculator interface {
	HubNames(ctx context.Context, r domain.DateRange) ([]string, error)
	TotalCosts(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error)
	CostsPerHub(ctx context.Context, r domain.DateRange) ([]domain.CostEntry, error)
	CostsPerComponent(ctx context.Context, req attribution.Request) ([]domain.ComponentCost, error)
	TotalUsage(ctx context.Context, req attribution.Request) ([]domain.UsageFraction, error)
	CostsPerUser(ctx context.Context, req attribution.Request) ([]domain.UserCost, error)
	CostsPerGroup(ctx context.Context, req attribution.Request) ([]domain.GroupCost, error)
	MultiGroupUsers(ctx context.Context, r domain.DateRange) ([]domain.UserGroups, error)
	UngroupedUsers(ctx context.Context, r domain.DateRange) ([]domain.UserKey, error)
}

type Handler struct {
	calculator   Calculator
	maxRangeDays int
	now          func() time.Time
}

func NewHandler(calculator Calculator, maxRangeDays int) *Handler {
	return &Handler{
		calculator:   calculator,
		maxRangeDays: maxRangeDays,
		now:          time.Now,
	}
}

func (h *Handler) HubNames(w http.ResponseWriter, r *http.Request) {
	dr, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hubs, err := h.calculator.HubNames(r.Context(), dr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hubs == nil {
		hubs = []string{}
	}
	writeJSON(w, r, hubs)
}

func (h *Handler) TotalCosts(w http.ResponseWriter, r *http.Request) {
	dr, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.calculator.TotalCosts(r.Context(), dr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, adapters.MapCostEntriesDomainToApi(entries))
}

func (h *Handler) CostsPerHub(w http.ResponseWriter, r *http.Request) {
	dr, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.calculator.CostsPerHub(r.Context(), dr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, adapters.MapHubCostsDomainToApi(entries))
}

func (h *Handler) CostsPerComponent(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	costs, err := h.calculator.CostsPerComponent(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, adapters.MapComponentCostsDomainToApi(costs))
}

func (h *Handler) TotalUsage(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	fractions, err := h.calculator.TotalUsage(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, adapters.MapUsageFractionsDomainToApi(fractions))
}

func (h *Handler) CostsPerUser(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	costs, err := h.calculator.CostsPerUser(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, adapters.MapUserCostsDomainToApi(costs))
}

func (h *Handler) CostsPerGroup(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	costs, err := h.calculator.CostsPerGroup(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, adapters.MapGroupCostsDomainToApi(costs))
}

func (h *Handler) MultiGroupUsers(w http.ResponseWriter, r *http.Request) {
	dr, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users, err := h.calculator.MultiGroupUsers(r.Context(), dr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, adapters.MapUserGroupsDomainToApi(users))
}

func (h *Handler) UngroupedUsers(w http.ResponseWriter, r *http.Request) {
	dr, err := h.parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users, err := h.calculator.UngroupedUsers(r.Context(), dr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, adapters.MapUserKeysDomainToApi(users))
}

func (h *Handler) parseRange(r *http.Request) (domain.DateRange, error) {
	q := r.URL.Query()
	return domain.ParseDateRange(q.Get("from"), q.Get("to"), h.now(), h.maxRangeDays)
}

func (h *Handler) parseRequest(r *http.Request) (attribution.Request, error) {
	dr, err := h.parseRange(r)
	if err != nil {
		return attribution.Request{}, err
	}
	q := r.URL.Query()
	req := attribution.Request{
		Range:     dr,
		Hub:       q.Get("hub"),
		User:      q.Get("user"),
		Usergroup: q.Get("usergroup"),
	}
	if c := q.Get("component"); c != "" {
		req.Component, err = domain.ParseComponent(c)
		if err != nil {
			return attribution.Request{}, err
		}
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 {
			return attribution.Request{}, fmt.Errorf("%w: limit must be a positive integer, got %q", domain.ErrInvalidFilter, l)
		}
		req.Limit = limit
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())
	switch {
	case domain.IsClientError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		logger.Warn().Err(err).Msg("upstream unavailable")
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
