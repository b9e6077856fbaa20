package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

// ResponderRepository определяет контракт реестра бригад
type ResponderRepository interface {
	FindNearest(ctx context.Context, lat, lng, radiusMeters float64, filter models.ResponderFilter, limit int) ([]*models.ResponderCandidate, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Responder, error)
	Reserve(ctx context.Context, id uuid.UUID, expected, next models.ResponderStatus) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ResponderStatus) error
	UpdateLocation(ctx context.Context, id uuid.UUID, lat, lng float64) error
	AdjustLoad(ctx context.Context, id uuid.UUID, delta int) error
}

// HospitalRepository определяет контракт реестра больниц
type HospitalRepository interface {
	FindNearest(ctx context.Context, lat, lng, radiusMeters float64, filter models.HospitalFilter, limit int) ([]*models.HospitalCandidate, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Hospital, error)
	ReserveBed(ctx context.Context, id uuid.UUID, minBeds int) (bool, error)
	ReleaseBed(ctx context.Context, id uuid.UUID) error
}

// AssignmentRepository определяет контракт хранилища назначений
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	ActiveByIncident(ctx context.Context, incidentID uuid.UUID) (*models.Assignment, error)
	ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*models.Assignment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.AssignmentStatus) error
	SetHospital(ctx context.Context, id, hospitalID uuid.UUID) error
}

// Allocator определяет контракт движка аллокации ресурсов
type Allocator interface {
	Allocate(ctx context.Context, req models.AllocationRequest) (*models.Reservation, error)
	Release(ctx context.Context, assignment *models.Assignment) error
	Complete(ctx context.Context, assignment *models.Assignment) error
}

// AllocationEngine выполняет поиск ближайшего подходящего ресурса и его атомарное резервирование
type AllocationEngine struct {
	responders  ResponderRepository
	hospitals   HospitalRepository
	assignments AssignmentRepository
	cfg         *config.Config
	logger      *logrus.Logger
	gate        *priorityGate
}

// NewAllocationEngine создает движок аллокации
func NewAllocationEngine(
	responders ResponderRepository,
	hospitals HospitalRepository,
	assignments AssignmentRepository,
	cfg *config.Config,
	logger *logrus.Logger,
) *AllocationEngine {
	return &AllocationEngine{
		responders:  responders,
		hospitals:   hospitals,
		assignments: assignments,
		cfg:         cfg,
		logger:      logger,
		gate:        newPriorityGate(),
	}
}

// rankedCandidate - кандидат после ранжирования, общий для бригад и больниц
type rankedCandidate struct {
	id             uuid.UUID
	etaMinutes     int
	load           int
	distanceMeters float64
}

// Allocate ищет кандидатов с экспоненциальным расширением радиуса, ранжирует их по
// составному ключу (ETA, загрузка, расстояние) и пытается атомарно зарезервировать
// лучшего. Проигрыш гонки резервирования переводит попытку к следующему кандидату;
// полное исчерпание ранжированного списка повторяет поиск один раз со свежими данными.
func (e *AllocationEngine) Allocate(ctx context.Context, req models.AllocationRequest) (*models.Reservation, error) {
	if err := validateRequirements(req); err != nil {
		return nil, err
	}

	log := e.logger.WithFields(logrus.Fields{
		"service":     "allocation",
		"incident_id": req.IncidentID,
		"kind":        req.Kind,
		"priority":    req.Priority,
	})

	// P1 запросы проходят ворота раньше одновременно стоящих P2/P3
	e.gate.enter(req.Priority)
	defer e.gate.leave(req.Priority)

	for pass := 0; pass < 2; pass++ {
		candidates, err := e.search(ctx, req)
		if err != nil {
			return nil, err
		}

		ranked := rank(candidates, req.Priority)
		for i, c := range ranked {
			won, err := e.tryReserve(ctx, req, c)
			if err != nil {
				return nil, err
			}
			if !won {
				// Проиграли конкурентной аллокации, идем к следующему по рангу
				log.WithField("candidate_id", c.id).Debug("Lost reservation race, falling through to next candidate")
				continue
			}

			reservation, err := e.commit(ctx, req, c, i+1)
			if err != nil {
				return nil, err
			}
			log.WithFields(logrus.Fields{
				"resource_id": c.id,
				"eta_minutes": c.etaMinutes,
				"rank_won_at": i + 1,
			}).Info("Resource reserved")
			return reservation, nil
		}

		log.Warn("All ranked candidates lost to concurrent reservations, restarting search")
	}

	return nil, ErrReservationConflict
}

// search выполняет поиск кандидатов с удвоением радиуса до предельного числа расширений
func (e *AllocationEngine) search(ctx context.Context, req models.AllocationRequest) ([]rankedCandidate, error) {
	radiusMeters := e.initialRadiusMeters(req.Kind)

	for expansion := 0; expansion <= e.cfg.RadiusExpansions; expansion++ {
		candidates, err := e.findCandidates(ctx, req, radiusMeters)
		if err != nil {
			return nil, fmt.Errorf("allocation: candidate search failed: %w", err)
		}
		if len(candidates) > 0 {
			return candidates, nil
		}
		radiusMeters *= 2
	}

	return nil, fmt.Errorf("allocation: kind %s within radius cap: %w", req.Kind, ErrNoCandidate)
}

func (e *AllocationEngine) findCandidates(ctx context.Context, req models.AllocationRequest, radiusMeters float64) ([]rankedCandidate, error) {
	switch req.Kind {
	case models.KindResponder:
		filter := models.ResponderFilter{
			Status:       models.ResponderAvailable,
			VehicleType:  req.Requirements.VehicleType,
			Capabilities: req.Requirements.Capabilities,
		}
		found, err := e.responders.FindNearest(ctx, req.Latitude, req.Longitude, radiusMeters, filter, e.cfg.CandidateLimit)
		if err != nil {
			return nil, err
		}
		candidates := make([]rankedCandidate, 0, len(found))
		for _, r := range found {
			candidates = append(candidates, rankedCandidate{
				id:             r.ID,
				etaMinutes:     e.etaMinutes(r.DistanceMeters),
				load:           r.ActiveLoad,
				distanceMeters: r.DistanceMeters,
			})
		}
		return candidates, nil
	case models.KindHospital:
		filter := models.HospitalFilter{
			Specialty: req.Requirements.Specialty,
			MinBeds:   req.Requirements.MinBeds,
		}
		found, err := e.hospitals.FindNearest(ctx, req.Latitude, req.Longitude, radiusMeters, filter, e.cfg.CandidateLimit)
		if err != nil {
			return nil, err
		}
		candidates := make([]rankedCandidate, 0, len(found))
		for _, h := range found {
			candidates = append(candidates, rankedCandidate{
				id:             h.ID,
				etaMinutes:     e.etaMinutes(h.DistanceMeters),
				load:           0,
				distanceMeters: h.DistanceMeters,
			})
		}
		return candidates, nil
	}
	return nil, ErrInvalidRequirements
}

// tryReserve выполняет условное обновление: резерв возможен только если ресурс все еще свободен
func (e *AllocationEngine) tryReserve(ctx context.Context, req models.AllocationRequest, c rankedCandidate) (bool, error) {
	switch req.Kind {
	case models.KindResponder:
		won, err := e.responders.Reserve(ctx, c.id, models.ResponderAvailable, models.ResponderReserved)
		if err != nil {
			return false, fmt.Errorf("allocation: responder reserve failed: %w", err)
		}
		return won, nil
	case models.KindHospital:
		minBeds := req.Requirements.MinBeds
		if minBeds < 1 {
			minBeds = 1
		}
		won, err := e.hospitals.ReserveBed(ctx, c.id, minBeds)
		if err != nil {
			return false, fmt.Errorf("allocation: hospital bed reserve failed: %w", err)
		}
		return won, nil
	}
	return false, ErrInvalidRequirements
}

// commit фиксирует успешный резерв: для бригады создается запись назначения
func (e *AllocationEngine) commit(ctx context.Context, req models.AllocationRequest, c rankedCandidate, rankWonAt int) (*models.Reservation, error) {
	reservation := &models.Reservation{
		Kind:           req.Kind,
		ResourceID:     c.id,
		ETAMinutes:     c.etaMinutes,
		DistanceMeters: c.distanceMeters,
		RankWonAt:      rankWonAt,
	}

	if req.Kind == models.KindResponder {
		assignment := &models.Assignment{
			IncidentID:  req.IncidentID,
			ResponderID: c.id,
			Status:      models.AssignmentDispatched,
			ETAMinutes:  c.etaMinutes,
			RankWonAt:   rankWonAt,
		}
		if err := e.assignments.Create(ctx, assignment); err != nil {
			// Компенсация: резерв снимается, чтобы не потерять бригаду
			if releaseErr := e.responders.UpdateStatus(ctx, c.id, models.ResponderAvailable); releaseErr != nil {
				e.logger.WithError(releaseErr).WithField("responder_id", c.id).Error("Failed to release responder after assignment create failure")
			}
			return nil, fmt.Errorf("allocation: could not create assignment: %w", err)
		}
		if err := e.responders.AdjustLoad(ctx, c.id, 1); err != nil {
			e.logger.WithError(err).WithField("responder_id", c.id).Warn("Failed to increment responder load")
		}
		reservation.AssignmentID = assignment.ID
	}

	return reservation, nil
}

// Release - компенсирующее действие: снятие активного резерва при отмене инцидента.
// Бригада возвращается в available, койка больницы освобождается, назначение закрывается.
func (e *AllocationEngine) Release(ctx context.Context, assignment *models.Assignment) error {
	if assignment == nil || assignment.Status.IsTerminal() {
		return nil
	}

	if err := e.assignments.UpdateStatus(ctx, assignment.ID, models.AssignmentCancelled); err != nil {
		return fmt.Errorf("allocation: could not cancel assignment: %w", err)
	}
	if err := e.responders.UpdateStatus(ctx, assignment.ResponderID, models.ResponderAvailable); err != nil {
		return fmt.Errorf("allocation: could not release responder: %w", err)
	}
	if err := e.responders.AdjustLoad(ctx, assignment.ResponderID, -1); err != nil {
		e.logger.WithError(err).WithField("responder_id", assignment.ResponderID).Warn("Failed to decrement responder load")
	}
	if assignment.HospitalID != nil {
		if err := e.hospitals.ReleaseBed(ctx, *assignment.HospitalID); err != nil {
			return fmt.Errorf("allocation: could not release hospital bed: %w", err)
		}
	}
	return nil
}

// Complete закрывает назначение при разрешении инцидента.
// Койка больницы остается занятой: пациент доставлен.
func (e *AllocationEngine) Complete(ctx context.Context, assignment *models.Assignment) error {
	if assignment == nil || assignment.Status.IsTerminal() {
		return nil
	}

	if err := e.assignments.UpdateStatus(ctx, assignment.ID, models.AssignmentCompleted); err != nil {
		return fmt.Errorf("allocation: could not complete assignment: %w", err)
	}
	if err := e.responders.UpdateStatus(ctx, assignment.ResponderID, models.ResponderAvailable); err != nil {
		return fmt.Errorf("allocation: could not free responder: %w", err)
	}
	if err := e.responders.AdjustLoad(ctx, assignment.ResponderID, -1); err != nil {
		e.logger.WithError(err).WithField("responder_id", assignment.ResponderID).Warn("Failed to decrement responder load")
	}
	return nil
}

func (e *AllocationEngine) initialRadiusMeters(kind models.ResourceKind) float64 {
	if kind == models.KindHospital {
		return e.cfg.HospitalRadiusKM * 1000
	}
	return e.cfg.ResponderRadiusKM * 1000
}

// etaMinutes вычисляет ETA по фиксированной средней скорости, округляя вниз до целых минут
func (e *AllocationEngine) etaMinutes(distanceMeters float64) int {
	return int(distanceMeters / 1000 / e.cfg.AvgSpeedKMH * 60)
}

// rank сортирует кандидатов по составному ключу: первичный - ETA (для P1 с расширенным
// окном допустимого разброса), вторичный - меньшая текущая загрузка, третичный - меньшее
// сырое расстояние. Требования к возможностям при этом никогда не ослабляются.
func rank(candidates []rankedCandidate, priority models.Priority) []rankedCandidate {
	window := 1
	if priority == models.PriorityP1 {
		window = 5
	}

	ranked := make([]rankedCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		bi, bj := ranked[i].etaMinutes/window, ranked[j].etaMinutes/window
		if bi != bj {
			return bi < bj
		}
		if ranked[i].load != ranked[j].load {
			return ranked[i].load < ranked[j].load
		}
		return ranked[i].distanceMeters < ranked[j].distanceMeters
	})
	return ranked
}

func validateRequirements(req models.AllocationRequest) error {
	if req.Kind != models.KindResponder && req.Kind != models.KindHospital {
		return fmt.Errorf("unknown resource kind %q: %w", req.Kind, ErrInvalidRequirements)
	}
	if req.Requirements.MinBeds < 0 {
		return fmt.Errorf("negative min_beds: %w", ErrInvalidRequirements)
	}
	for _, capability := range req.Requirements.Capabilities {
		if strings.TrimSpace(capability) == "" {
			return fmt.Errorf("empty capability in filter: %w", ErrInvalidRequirements)
		}
	}
	return nil
}

// priorityGate пропускает P1 запросы вперед одновременно ожидающих P2/P3
type priorityGate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	p1Pending int
}

func newPriorityGate() *priorityGate {
	g := &priorityGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *priorityGate) enter(priority models.Priority) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if priority == models.PriorityP1 {
		g.p1Pending++
		return
	}
	for g.p1Pending > 0 {
		g.cond.Wait()
	}
}

func (g *priorityGate) leave(priority models.Priority) {
	if priority != models.PriorityP1 {
		return
	}
	g.mu.Lock()
	g.p1Pending--
	if g.p1Pending == 0 {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}
