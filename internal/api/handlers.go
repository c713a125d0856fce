package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type appointmentHandlers struct {
	svc *appointment.Service
	log *zap.Logger
}

func (h appointmentHandlers) respond(w http.ResponseWriter, status int, appt *domain.Appointment) {
	writeJSON(w, status, toAppointmentResponse(*appt, h.svc.Location()))
}

func (h appointmentHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	at, err := time.Parse(time.RFC3339, req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_at", "at must be an RFC 3339 timestamp")
		return
	}

	appt, err := h.svc.Schedule(r.Context(), appointment.ScheduleRequest{
		PatientID: mustUUID(req.PatientID),
		DoctorID:  mustUUID(req.DoctorID),
		At:        at,
		Duration:  time.Duration(req.DurationMinutes) * time.Minute,
		Reason:    req.Reason,
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, appt)
}

func (h appointmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	h.respond(w, http.StatusOK, appt)
}

func (h appointmentHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f domain.AppointmentFilter
	var err error

	if f.DoctorID, err = queryUUID(r, "doctor_id"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	if f.PatientID, err = queryUUID(r, "patient_id"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
		return
	}
	if v := q.Get("date"); v != "" {
		d, err := domain.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		f.Date = &d
	}
	if v := q.Get("status"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			st, err := domain.ParseAppointmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	appts, err := h.svc.List(r.Context(), f)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}

	resp := AppointmentListResponse{
		Items:  []AppointmentResponse{},
		Total:  len(appts),
		Limit:  limit,
		Offset: offset,
	}
	if offset < len(appts) {
		end := min(offset+limit, len(appts))
		for _, a := range appts[offset:end] {
			resp.Items = append(resp.Items, toAppointmentResponse(a, h.svc.Location()))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, reason string) (*domain.Appointment, error)

// transition serves the POST /appointments/{id}/<action> endpoints. The
// optional body carries a reason for reject and cancel.
func (h appointmentHandlers) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decode(w, r, &req) {
			return
		}
		appt, err := fn(r.Context(), id, req.Reason)
		if err != nil {
			handleError(h.log, w, r, err)
			return
		}
		h.respond(w, http.StatusOK, appt)
	}
}

func (h appointmentHandlers) approve(ctx context.Context, id uuid.UUID, _ string) (*domain.Appointment, error) {
	return h.svc.Approve(ctx, id)
}

func (h appointmentHandlers) confirm(ctx context.Context, id uuid.UUID, _ string) (*domain.Appointment, error) {
	return h.svc.Confirm(ctx, id)
}

func (h appointmentHandlers) complete(ctx context.Context, id uuid.UUID, _ string) (*domain.Appointment, error) {
	return h.svc.MarkCompleted(ctx, id)
}

func (h appointmentHandlers) noShow(ctx context.Context, id uuid.UUID, _ string) (*domain.Appointment, error) {
	return h.svc.MarkNoShow(ctx, id)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
