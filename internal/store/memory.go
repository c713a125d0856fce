package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/domain"
)

// Memory is a process-local domain.Store. Transactions buffer their writes
// in an overlay that is applied under the store lock on commit, so readers
// never observe a half-applied unit.
type Memory struct {
	mu    sync.RWMutex
	state memState

	// Fault, when set, is consulted before every write with the operation
	// name; a non-nil result fails that write. Used to exercise rollback.
	Fault func(op string) error
}

type memState struct {
	slots        map[uuid.UUID]domain.AvailabilitySlot
	appointments map[uuid.UUID]domain.Appointment
	beds         map[uuid.UUID]domain.Bed
	admissions   map[uuid.UUID]domain.Admission
	transfers    map[uuid.UUID]domain.BedTransfer
}

type memOverlay struct {
	slots        map[uuid.UUID]*domain.AvailabilitySlot
	appointments map[uuid.UUID]*domain.Appointment
	beds         map[uuid.UUID]*domain.Bed
	admissions   map[uuid.UUID]*domain.Admission
	transfers    map[uuid.UUID]*domain.BedTransfer
}

func NewMemory() *Memory {
	return &Memory{
		state: memState{
			slots:        make(map[uuid.UUID]domain.AvailabilitySlot),
			appointments: make(map[uuid.UUID]domain.Appointment),
			beds:         make(map[uuid.UUID]domain.Bed),
			admissions:   make(map[uuid.UUID]domain.Admission),
			transfers:    make(map[uuid.UUID]domain.BedTransfer),
		},
	}
}

var _ domain.Store = (*Memory)(nil)

func (m *Memory) view() *memView { return &memView{m: m} }

func (m *Memory) InTx(ctx context.Context, fn func(repo domain.Repository) error) error {
	tx := &memView{m: m, over: &memOverlay{
		slots:        make(map[uuid.UUID]*domain.AvailabilitySlot),
		appointments: make(map[uuid.UUID]*domain.Appointment),
		beds:         make(map[uuid.UUID]*domain.Bed),
		admissions:   make(map[uuid.UUID]*domain.Admission),
		transfers:    make(map[uuid.UUID]*domain.BedTransfer),
	}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	apply(m.state.slots, tx.over.slots)
	apply(m.state.appointments, tx.over.appointments)
	apply(m.state.beds, tx.over.beds)
	apply(m.state.admissions, tx.over.admissions)
	apply(m.state.transfers, tx.over.transfers)
	return nil
}

func apply[T any](base map[uuid.UUID]T, over map[uuid.UUID]*T) {
	for id, v := range over {
		if v == nil {
			delete(base, id)
			continue
		}
		base[id] = *v
	}
}

func lookup[T any](base map[uuid.UUID]T, over map[uuid.UUID]*T, id uuid.UUID) (T, bool) {
	if v, ok := over[id]; ok {
		if v == nil {
			var zero T
			return zero, false
		}
		return *v, true
	}
	v, ok := base[id]
	return v, ok
}

func all[T any](base map[uuid.UUID]T, over map[uuid.UUID]*T) []T {
	out := make([]T, 0, len(base)+len(over))
	for id, v := range base {
		if o, ok := over[id]; ok {
			if o != nil {
				out = append(out, *o)
			}
			continue
		}
		out = append(out, v)
	}
	for id, o := range over {
		if _, inBase := base[id]; !inBase && o != nil {
			out = append(out, *o)
		}
	}
	return out
}

// Repository methods on the store itself run outside any transaction.

func (m *Memory) GetSlot(ctx context.Context, id uuid.UUID) (*domain.AvailabilitySlot, error) {
	return m.view().GetSlot(ctx, id)
}
func (m *Memory) ListSlots(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilitySlot, error) {
	return m.view().ListSlots(ctx, doctorID)
}
func (m *Memory) SaveSlot(ctx context.Context, s *domain.AvailabilitySlot) error {
	return m.view().SaveSlot(ctx, s)
}
func (m *Memory) DeleteSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	return m.view().DeleteSlot(ctx, id)
}
func (m *Memory) DeleteSlotsForDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	return m.view().DeleteSlotsForDoctor(ctx, doctorID)
}
func (m *Memory) GetAppointment(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	return m.view().GetAppointment(ctx, id)
}
func (m *Memory) CreateAppointment(ctx context.Context, a *domain.Appointment) error {
	return m.view().CreateAppointment(ctx, a)
}
func (m *Memory) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus, reason string) (*domain.Appointment, error) {
	return m.view().UpdateAppointmentStatus(ctx, id, from, to, reason)
}
func (m *Memory) ListAppointments(ctx context.Context, f domain.AppointmentFilter) ([]domain.Appointment, error) {
	return m.view().ListAppointments(ctx, f)
}
func (m *Memory) GetBed(ctx context.Context, id uuid.UUID) (*domain.Bed, error) {
	return m.view().GetBed(ctx, id)
}
func (m *Memory) SaveBed(ctx context.Context, b *domain.Bed) error {
	return m.view().SaveBed(ctx, b)
}
func (m *Memory) ListBeds(ctx context.Context, f domain.BedFilter) ([]domain.Bed, error) {
	return m.view().ListBeds(ctx, f)
}
func (m *Memory) GetAdmission(ctx context.Context, id uuid.UUID) (*domain.Admission, error) {
	return m.view().GetAdmission(ctx, id)
}
func (m *Memory) SaveAdmission(ctx context.Context, a *domain.Admission) error {
	return m.view().SaveAdmission(ctx, a)
}
func (m *Memory) ListAdmissions(ctx context.Context, f domain.AdmissionFilter) ([]domain.Admission, error) {
	return m.view().ListAdmissions(ctx, f)
}
func (m *Memory) CreateTransfer(ctx context.Context, t *domain.BedTransfer) error {
	return m.view().CreateTransfer(ctx, t)
}
func (m *Memory) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]domain.BedTransfer, error) {
	return m.view().ListTransfers(ctx, admissionID)
}

// memView reads through an optional overlay. With over == nil writes go
// straight to the base state.
type memView struct {
	m    *Memory
	over *memOverlay
}

func (v *memView) overlay() memOverlay {
	if v.over == nil {
		return memOverlay{}
	}
	return *v.over
}

func (v *memView) fault(op string) error {
	if v.m.Fault == nil {
		return nil
	}
	return v.m.Fault(op)
}

// write runs fn either against the overlay or, outside a transaction, under
// the store's write lock.
func (v *memView) write(fn func(base *memState, over *memOverlay)) {
	if v.over != nil {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
		fn(&v.m.state, v.over)
		return
	}
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	fn(&v.m.state, nil)
}

// Availability

func (v *memView) GetSlot(_ context.Context, id uuid.UUID) (*domain.AvailabilitySlot, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	s, ok := lookup(v.m.state.slots, v.overlay().slots, id)
	if !ok {
		return nil, domain.ErrSlotNotFound
	}
	return &s, nil
}

func (v *memView) ListSlots(_ context.Context, doctorID uuid.UUID) ([]domain.AvailabilitySlot, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var out []domain.AvailabilitySlot
	for _, s := range all(v.m.state.slots, v.overlay().slots) {
		if s.DoctorID == doctorID {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (v *memView) SaveSlot(_ context.Context, s *domain.AvailabilitySlot) error {
	if err := v.fault("SaveSlot"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	row := *s
	v.write(func(base *memState, over *memOverlay) {
		if over != nil {
			over.slots[row.ID] = &row
			return
		}
		base.slots[row.ID] = row
	})
	return nil
}

func (v *memView) DeleteSlot(_ context.Context, id uuid.UUID) (bool, error) {
	if err := v.fault("DeleteSlot"); err != nil {
		return false, err
	}
	var found bool
	v.write(func(base *memState, over *memOverlay) {
		if over != nil {
			_, found = lookup(base.slots, over.slots, id)
			if found {
				over.slots[id] = nil
			}
			return
		}
		_, found = base.slots[id]
		delete(base.slots, id)
	})
	return found, nil
}

func (v *memView) DeleteSlotsForDoctor(_ context.Context, doctorID uuid.UUID) (int, error) {
	if err := v.fault("DeleteSlotsForDoctor"); err != nil {
		return 0, err
	}
	var n int
	v.write(func(base *memState, over *memOverlay) {
		if over != nil {
			for _, s := range all(base.slots, over.slots) {
				if s.DoctorID == doctorID {
					over.slots[s.ID] = nil
					n++
				}
			}
			return
		}
		for id, s := range base.slots {
			if s.DoctorID == doctorID {
				delete(base.slots, id)
				n++
			}
		}
	})
	return n, nil
}

// Appointments

func (v *memView) GetAppointment(_ context.Context, id uuid.UUID) (*domain.Appointment, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	a, ok := lookup(v.m.state.appointments, v.overlay().appointments, id)
	if !ok {
		return nil, domain.ErrAppointmentNotFound
	}
	return &a, nil
}

func (v *memView) CreateAppointment(_ context.Context, a *domain.Appointment) error {
	if err := v.fault("CreateAppointment"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	row := *a
	var taken bool
	v.write(func(base *memState, over *memOverlay) {
		var o map[uuid.UUID]*domain.Appointment
		if over != nil {
			o = over.appointments
		}
		// mirrors the partial unique index of the SQL stores
		for _, cur := range all(base.appointments, o) {
			if cur.DoctorID == row.DoctorID && cur.Date.Equal(row.Date) && cur.Start == row.Start && cur.Status.IsActive() {
				taken = true
				return
			}
		}
		if over != nil {
			over.appointments[row.ID] = &row
			return
		}
		base.appointments[row.ID] = row
	})
	if taken {
		return domain.ErrSlotTaken
	}
	return nil
}

func (v *memView) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to domain.AppointmentStatus, reason string) (*domain.Appointment, error) {
	if err := v.fault("UpdateAppointmentStatus"); err != nil {
		return nil, err
	}
	var (
		updated domain.Appointment
		ok      bool
	)
	v.write(func(base *memState, over *memOverlay) {
		var o map[uuid.UUID]*domain.Appointment
		if over != nil {
			o = over.appointments
		}
		cur, found := lookup(base.appointments, o, id)
		if !found || cur.Status != from {
			return
		}
		cur.Status = to
		if reason != "" {
			cur.StatusReason = reason
		}
		cur.UpdatedAt = time.Now().UTC()
		if over != nil {
			over.appointments[id] = &cur
		} else {
			base.appointments[id] = cur
		}
		updated, ok = cur, true
	})
	if !ok {
		return nil, domain.ErrAppointmentNotFound
	}
	return &updated, nil
}

func (v *memView) ListAppointments(_ context.Context, f domain.AppointmentFilter) ([]domain.Appointment, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var out []domain.Appointment
	for _, a := range all(v.m.state.appointments, v.overlay().appointments) {
		if matchAppointment(a, f) {
			out = append(out, a)
		}
	}
	SortAppointments(out)
	return out, nil
}

func matchAppointment(a domain.Appointment, f domain.AppointmentFilter) bool {
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.Date != nil && !a.Date.Equal(*f.Date) {
		return false
	}
	if f.Before != nil && !a.Date.Before(*f.Before) {
		return false
	}
	if len(f.Statuses) > 0 {
		match := false
		for _, st := range f.Statuses {
			if a.Status == st {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// Beds

func (v *memView) GetBed(_ context.Context, id uuid.UUID) (*domain.Bed, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	b, ok := lookup(v.m.state.beds, v.overlay().beds, id)
	if !ok {
		return nil, domain.ErrBedNotFound
	}
	b = cloneBed(b)
	return &b, nil
}

func (v *memView) SaveBed(_ context.Context, b *domain.Bed) error {
	if err := v.fault("SaveBed"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	row := cloneBed(*b)
	v.write(func(base *memState, over *memOverlay) {
		if over != nil {
			over.beds[row.ID] = &row
			return
		}
		base.beds[row.ID] = row
	})
	return nil
}

func (v *memView) ListBeds(_ context.Context, f domain.BedFilter) ([]domain.Bed, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var out []domain.Bed
	for _, b := range all(v.m.state.beds, v.overlay().beds) {
		if f.WardID != nil && b.WardID != *f.WardID {
			continue
		}
		if f.RoomID != nil && b.RoomID != *f.RoomID {
			continue
		}
		if f.FreeOnly && b.Occupied {
			continue
		}
		out = append(out, cloneBed(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WardID != out[j].WardID {
			return out[i].WardID.String() < out[j].WardID.String()
		}
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID.String() < out[j].RoomID.String()
		}
		return out[i].BedNumber < out[j].BedNumber
	})
	return out, nil
}

// Admissions

func (v *memView) GetAdmission(_ context.Context, id uuid.UUID) (*domain.Admission, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	a, ok := lookup(v.m.state.admissions, v.overlay().admissions, id)
	if !ok {
		return nil, domain.ErrAdmissionNotFound
	}
	a = cloneAdmission(a)
	return &a, nil
}

func (v *memView) SaveAdmission(_ context.Context, a *domain.Admission) error {
	if err := v.fault("SaveAdmission"); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.UpdatedAt = time.Now().UTC()
	row := cloneAdmission(*a)
	v.write(func(base *memState, over *memOverlay) {
		if over != nil {
			over.admissions[row.ID] = &row
			return
		}
		base.admissions[row.ID] = row
	})
	return nil
}

func (v *memView) ListAdmissions(_ context.Context, f domain.AdmissionFilter) ([]domain.Admission, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var out []domain.Admission
	for _, a := range all(v.m.state.admissions, v.overlay().admissions) {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.BedID != nil && a.BedID != *f.BedID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, cloneAdmission(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmittedAt.Before(out[j].AdmittedAt) })
	return out, nil
}

func (v *memView) CreateTransfer(_ context.Context, t *domain.BedTransfer) error {
	if err := v.fault("CreateTransfer"); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	row := *t
	v.write(func(base *memState, over *memOverlay) {
		if over != nil {
			over.transfers[row.ID] = &row
			return
		}
		base.transfers[row.ID] = row
	})
	return nil
}

func (v *memView) ListTransfers(_ context.Context, admissionID uuid.UUID) ([]domain.BedTransfer, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var out []domain.BedTransfer
	for _, t := range all(v.m.state.transfers, v.overlay().transfers) {
		if t.AdmissionID == admissionID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransferredAt.Before(out[j].TransferredAt) })
	return out, nil
}

func cloneBed(b domain.Bed) domain.Bed {
	if b.CurrentAdmissionID != nil {
		id := *b.CurrentAdmissionID
		b.CurrentAdmissionID = &id
	}
	return b
}

func cloneAdmission(a domain.Admission) domain.Admission {
	if a.DischargedAt != nil {
		t := *a.DischargedAt
		a.DischargedAt = &t
	}
	if a.DischargeSummaryID != nil {
		id := *a.DischargeSummaryID
		a.DischargeSummaryID = &id
	}
	return a
}
