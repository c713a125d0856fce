package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/availability"
	"github.com/hackgods/hospital-scheduling/internal/domain"
)

type availabilityHandlers struct {
	svc *availability.Service
	log *zap.Logger
}

func slotResponses(slots []domain.AvailabilitySlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

// toSlotInput converts a validated request. Enabled defaults to true.
func toSlotInput(req SlotRequest) availability.SlotInput {
	day, _ := domain.ParseWeekday(req.DayOfWeek)
	start, _ := domain.ParseClock(req.Start)
	end, _ := domain.ParseClock(req.End)
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return availability.SlotInput{DayOfWeek: day, Start: start, End: end, Enabled: enabled}
}

func (h availabilityHandlers) list(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	slots, err := h.svc.ListSlots(r.Context(), doctorID)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotResponses(slots))
}

func (h availabilityHandlers) add(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	var req SlotRequest
	if !decode(w, r, &req) {
		return
	}
	in := toSlotInput(req)

	slot, err := h.svc.AddSlot(r.Context(), doctorID, in.DayOfWeek, in.Start, in.End)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	if !in.Enabled {
		if slot, err = h.svc.SetSlotEnabled(r.Context(), slot.ID, false); err != nil {
			handleError(h.log, w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
}

func (h availabilityHandlers) replace(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	var req ReplaceScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	inputs := make([]availability.SlotInput, 0, len(req.Slots))
	for _, s := range req.Slots {
		inputs = append(inputs, toSlotInput(s))
	}

	slots, err := h.svc.ReplaceSchedule(r.Context(), doctorID, inputs)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotResponses(slots))
}

func (h availabilityHandlers) remove(w http.ResponseWriter, r *http.Request) {
	slotID, ok := uuidParam(w, r, "slotID")
	if !ok {
		return
	}
	if err := h.svc.RemoveSlot(r.Context(), slotID); err != nil {
		handleError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h availabilityHandlers) setEnabled(w http.ResponseWriter, r *http.Request) {
	slotID, ok := uuidParam(w, r, "slotID")
	if !ok {
		return
	}
	var req SetSlotEnabledRequest
	if !decode(w, r, &req) {
		return
	}
	slot, err := h.svc.SetSlotEnabled(r.Context(), slotID, *req.Enabled)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(*slot))
}
