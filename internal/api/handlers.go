package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careloop/schedcore/internal/scheduling"
	"github.com/careloop/schedcore/internal/syncengine"
)

const dateLayout = "2006-01-02"

func generateAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		params, err := toGenerateParams(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		created, err := svc.GenerateAvailability(r.Context(), params)
		if err != nil {
			// A partial batch is still a result: report what was created
			// alongside the failure.
			if created > 0 {
				writeJSON(w, http.StatusAccepted, GenerateAvailabilityResponse{Created: created})
				return
			}
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, GenerateAvailabilityResponse{Created: created})
	}
}

func toGenerateParams(req GenerateAvailabilityRequest) (scheduling.GenerateParams, error) {
	var p scheduling.GenerateParams

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		return p, err
	}

	loc := time.Local
	if req.Timezone != "" {
		loc, err = time.LoadLocation(req.Timezone)
		if err != nil {
			return p, err
		}
	}

	from, err := time.ParseInLocation(dateLayout, req.From, loc)
	if err != nil {
		return p, err
	}
	to, err := time.ParseInLocation(dateLayout, req.To, loc)
	if err != nil {
		return p, err
	}

	dayStart, err := scheduling.ParseClock(req.DayStart)
	if err != nil {
		return p, err
	}
	dayEnd, err := scheduling.ParseClock(req.DayEnd)
	if err != nil {
		return p, err
	}

	weekdays := make([]time.Weekday, 0, len(req.Weekdays))
	for _, d := range req.Weekdays {
		weekdays = append(weekdays, time.Weekday(d))
	}

	return scheduling.GenerateParams{
		ProviderID:   providerID,
		From:         from,
		To:           to,
		DayStart:     dayStart,
		DayEnd:       dayEnd,
		SlotDuration: time.Duration(req.DurationMins) * time.Minute,
		Break:        time.Duration(req.BreakMins) * time.Minute,
		Weekdays:     weekdays,
		Block:        req.Block,
		Reason:       req.Reason,
		Location:     loc,
	}, nil
}

func listOpenSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		from := time.Now()
		if raw := r.URL.Query().Get("from"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
				return
			}
			from = parsed
		}

		slots, err := svc.ListOpenSlots(r.Context(), providerID, from)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotListResponse(slots))
	}
}

func providerScheduleHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
			return
		}

		slots, err := svc.GetProviderSchedule(r.Context(), providerID, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotListResponse(slots))
	}
}

func bookSlotHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req BookSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		memberID, err := uuid.Parse(req.MemberID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_member_id", "member_id must be a valid UUID")
			return
		}

		res, err := svc.BookSlot(r.Context(), slotID, memberID, req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeResult(w, res)
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := svc.CancelAppointment(r.Context(), appointmentID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeResult(w, res)
	}
}

func rescheduleHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		oldID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_new_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		memberID := uuid.Nil
		if req.MemberID != "" {
			memberID, err = uuid.Parse(req.MemberID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_member_id", "member_id must be a valid UUID")
				return
			}
		}

		res, err := svc.RescheduleSwap(r.Context(), oldID, newID, memberID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeResult(w, res)
	}
}

func setBlockHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req SetBlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := svc.ToggleBlock(r.Context(), slotID, req.Blocked, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeResult(w, res)
	}
}

// enqueueMutationHandler is the uniform entry point: a raw mutation payload
// flows through the same offline-safe path as every typed endpoint.
func enqueueMutationHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m syncengine.Mutation
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := svc.EnqueueOrExecute(r.Context(), m)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeResult(w, res)
	}
}

func syncStatusHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SyncStatusResponse{
			Pending: svc.Pending(),
			Offline: svc.Offline(),
		})
	}
}

func writeResult(w http.ResponseWriter, res syncengine.Result) {
	status := http.StatusOK
	if res.Queued {
		// Accepted optimistically; the write is waiting to sync.
		status = http.StatusAccepted
	}
	if res.Slot == nil {
		writeJSON(w, status, struct{}{})
		return
	}
	writeJSON(w, status, toSlotResponse(res.Slot, res.Queued))
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
