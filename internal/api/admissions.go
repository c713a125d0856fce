package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/admission"
	"github.com/hackgods/hospital-scheduling/internal/domain"
)

type admissionHandlers struct {
	svc *admission.Service
	log *zap.Logger
}

func (h admissionHandlers) registerBed(w http.ResponseWriter, r *http.Request) {
	var req RegisterBedRequest
	if !decode(w, r, &req) {
		return
	}
	bed, err := h.svc.RegisterBed(r.Context(), mustUUID(req.WardID), mustUUID(req.RoomID), req.BedNumber)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBedResponse(*bed))
}

func (h admissionHandlers) getBed(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	bed, err := h.svc.GetBed(r.Context(), id)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBedResponse(*bed))
}

func (h admissionHandlers) listBeds(w http.ResponseWriter, r *http.Request) {
	var f domain.BedFilter
	var err error
	if f.WardID, err = queryUUID(r, "ward_id"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ward_id", err.Error())
		return
	}
	if f.RoomID, err = queryUUID(r, "room_id"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_room_id", err.Error())
		return
	}
	f.FreeOnly = r.URL.Query().Get("free") == "true"

	beds, err := h.svc.ListBeds(r.Context(), f)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	out := make([]BedResponse, 0, len(beds))
	for _, b := range beds {
		out = append(out, toBedResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h admissionHandlers) admit(w http.ResponseWriter, r *http.Request) {
	var req AdmitRequest
	if !decode(w, r, &req) {
		return
	}
	adm, err := h.svc.Admit(r.Context(), admission.AdmitRequest{
		PatientID:  mustUUID(req.PatientID),
		WardID:     mustUUID(req.WardID),
		RoomID:     mustUUID(req.RoomID),
		BedID:      mustUUID(req.BedID),
		AdmittedBy: mustUUID(req.AdmittedBy),
		Reason:     req.Reason,
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdmissionResponse(*adm))
}

func (h admissionHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	adm, err := h.svc.Get(r.Context(), id)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdmissionResponse(*adm))
}

func (h admissionHandlers) activeForPatient(w http.ResponseWriter, r *http.Request) {
	patientID, ok := uuidParam(w, r, "patientID")
	if !ok {
		return
	}
	adm, err := h.svc.FindActiveAdmission(r.Context(), patientID)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	if adm == nil {
		writeError(w, http.StatusNotFound, "no_active_admission", "patient has no active admission")
		return
	}
	writeJSON(w, http.StatusOK, toAdmissionResponse(*adm))
}

func (h admissionHandlers) transfer(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	adm, err := h.svc.Transfer(r.Context(), id, admission.TransferRequest{
		WardID: mustUUID(req.WardID),
		RoomID: mustUUID(req.RoomID),
		BedID:  mustUUID(req.BedID),
	})
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdmissionResponse(*adm))
}

func (h admissionHandlers) discharge(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req DischargeRequest
	if !decode(w, r, &req) {
		return
	}
	var summary *uuid.UUID
	if req.SummaryID != "" {
		s := mustUUID(req.SummaryID)
		summary = &s
	}
	adm, err := h.svc.Discharge(r.Context(), id, summary)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdmissionResponse(*adm))
}

func (h admissionHandlers) transfers(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	list, err := h.svc.ListTransfers(r.Context(), id)
	if err != nil {
		handleError(h.log, w, r, err)
		return
	}
	out := make([]TransferResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTransferResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}
