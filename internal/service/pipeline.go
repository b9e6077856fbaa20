package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/audit"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

// IncidentRepository определяет контракт журнала инцидентов
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	List(ctx context.Context, page, pageSize int) ([]*models.Incident, error)
	UpdateStageCAS(ctx context.Context, id uuid.UUID, expected, next models.IncidentStatus, patch *models.IncidentPatch) (bool, error)
	MarkEscalated(ctx context.Context, id uuid.UUID, reason string) error
	GetStats(ctx context.Context) (*models.DashboardStats, error)
	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// Geocoder определяет контракт обратного геокодирования.
// Пустой результат (nil, nil) означает "адрес не разрешен" и не является ошибкой этапа.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (*models.Address, error)
}

// DispatchPipeline определяет контракт конвейера обработки инцидентов
type DispatchPipeline interface {
	CreateIncident(ctx context.Context, report models.IntakeReport) (*models.Incident, error)
	Advance(ctx context.Context, id uuid.UUID, input models.StageInput) (*models.StageResult, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) error
	Resolve(ctx context.Context, id uuid.UUID) error
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error)
	ListAssignments(ctx context.Context, id uuid.UUID) ([]*models.Assignment, error)
	GetStats(ctx context.Context) (*models.DashboardStats, error)
}

// stageTransitions связывает этап с ожидаемым текущим и следующим статусом инцидента
var stageTransitions = map[models.Stage]struct {
	expect models.IncidentStatus
	next   models.IncidentStatus
}{
	models.StageTriage:         {models.StatusIntake, models.StatusTriaged},
	models.StageLocation:       {models.StatusTriaged, models.StatusLocated},
	models.StageDispatch:       {models.StatusLocated, models.StatusDispatched},
	models.StageHospitalNotify: {models.StatusDispatched, models.StatusHospitalNotified},
	models.StageAudit:          {models.StatusHospitalNotified, models.StatusHospitalNotified},
}

// vehicleTypes - значения из required_resources, являющиеся типом транспорта, а не возможностью
var vehicleTypes = map[string]bool{
	"ambulance":  true,
	"fire_truck": true,
}

type dispatchPipeline struct {
	repo        IncidentRepository
	assignments AssignmentRepository
	responders  ResponderRepository
	hospitals   HospitalRepository
	allocator   Allocator
	geocoder    Geocoder
	policy      *EscalationPolicy
	publisher   audit.Publisher
	cfg         *config.Config
	logger      *logrus.Logger
}

// NewDispatchPipeline создает контроллер конвейера инцидентов
func NewDispatchPipeline(
	repo IncidentRepository,
	assignments AssignmentRepository,
	responders ResponderRepository,
	hospitals HospitalRepository,
	allocator Allocator,
	geocoder Geocoder,
	publisher audit.Publisher,
	cfg *config.Config,
	logger *logrus.Logger,
) DispatchPipeline {
	return &dispatchPipeline{
		repo:        repo,
		assignments: assignments,
		responders:  responders,
		hospitals:   hospitals,
		allocator:   allocator,
		geocoder:    geocoder,
		policy:      NewEscalationPolicy(),
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
	}
}

// CreateIncident регистрирует инцидент на этапе приема вызова.
// При флаге угрозы жизни сбор данных прерывается: инцидент сразу получает P1 и идет дальше с частичными данными.
func (s *dispatchPipeline) CreateIncident(ctx context.Context, report models.IntakeReport) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "pipeline",
		"method":  "CreateIncident",
	})

	if strings.TrimSpace(report.EmergencyType) == "" {
		return nil, fmt.Errorf("pipeline: emergency_type is required: %w", ErrValidation)
	}
	if report.Location.Lat < -90 || report.Location.Lat > 90 || report.Location.Lng < -180 || report.Location.Lng > 180 {
		return nil, fmt.Errorf("pipeline: location out of range: %w", ErrValidation)
	}

	priority := models.PriorityP3
	if report.LifeThreateningFlag {
		priority = models.PriorityP1
	}

	output, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("pipeline: could not marshal intake report: %w", err)
	}

	incident := &models.Incident{
		CallerName:   report.CallerName,
		CallerPhone:  report.ContactNumber,
		IncidentType: report.EmergencyType,
		Symptoms:     report.Symptoms,
		Latitude:     report.Location.Lat,
		Longitude:    report.Location.Lng,
		Address:      report.Location.Address,
		Priority:     priority,
		Status:       models.StatusIntake,
		StageOutputs: map[models.Stage]json.RawMessage{models.StageIntake: output},
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		return nil, fmt.Errorf("pipeline: could not create incident: %w", err)
	}

	log.WithFields(logrus.Fields{"incident_id": incident.ID, "priority": priority}).Info("Incident created")
	s.emitAudit(ctx, incident.ID, models.StageIntake, "completed", output)
	return incident, nil
}

// Advance продвигает инцидент на один этап конвейера.
// Переход линеаризуется условным обновлением статуса; устаревший или дублирующий
// переход идемпотентно возвращает ранее сохраненный результат без нового события аудита.
func (s *dispatchPipeline) Advance(ctx context.Context, id uuid.UUID, input models.StageInput) (*models.StageResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "pipeline",
		"method":      "Advance",
		"incident_id": id,
		"stage":       input.Stage,
	})

	transition, ok := stageTransitions[input.Stage]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown stage %q: %w", input.Stage, ErrValidation)
	}

	incident, err := s.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	// Идемпотентный повтор уже выполненного этапа
	if stored, done := incident.StageOutputs[input.Stage]; done {
		log.Debug("Stage already completed, replaying stored result")
		return &models.StageResult{
			IncidentID: id,
			Stage:      input.Stage,
			Status:     incident.Status,
			Output:     stored,
			Escalated:  incident.Escalated,
			Replayed:   true,
		}, nil
	}

	if incident.Status.IsTerminal() {
		return nil, fmt.Errorf("pipeline: incident %s is %s: %w", id, incident.Status, ErrIncidentTerminal)
	}
	if incident.Status != transition.expect {
		return nil, fmt.Errorf("pipeline: incident %s at %q, stage %q expects %q: %w",
			id, incident.Status, input.Stage, transition.expect, ErrStaleTransition)
	}

	var (
		output     json.RawMessage
		patch      *models.IncidentPatch
		compensate func(context.Context)
		stageErr   error
	)
	for attempt := 1; ; attempt++ {
		// Мягкий дедлайн этапа по приоритету выдается на каждую попытку:
		// повтор после таймаута не должен стартовать с уже истекшим контекстом
		stageCtx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout(string(incident.Priority)))
		output, patch, compensate, stageErr = s.runStage(stageCtx, incident, input)
		cancel()
		if stageErr == nil {
			break
		}

		decision := s.policy.Decide(input.Stage, incident.Priority, attempt, ClassifyError(stageErr))
		switch decision {
		case DecisionRetry:
			log.WithError(stageErr).Warn("Stage failed, retrying once")
			continue
		case DecisionEscalate:
			log.WithError(stageErr).Error("Stage failed after retry, escalating incident")
			return s.escalate(ctx, incident, input.Stage, stageErr)
		default:
			return nil, stageErr
		}
	}

	if patch == nil {
		patch = &models.IncidentPatch{}
	}
	patch.Stage = input.Stage
	patch.StageOutput = output

	applied, err := s.repo.UpdateStageCAS(ctx, id, transition.expect, transition.next, patch)
	if err != nil {
		// Резерв этапа не стал видимым состоянием инцидента и обязан быть снят
		if compensate != nil {
			compensate(ctx)
		}
		return nil, fmt.Errorf("pipeline: could not persist stage transition: %w", err)
	}
	if !applied {
		// Конкурентный переход успел раньше: компенсируем собственный резерв
		// и повторяем результат победителя
		if compensate != nil {
			compensate(ctx)
		}
		fresh, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("pipeline: could not re-read incident after lost transition: %w", err)
		}
		if stored, done := fresh.StageOutputs[input.Stage]; done {
			return &models.StageResult{
				IncidentID: id,
				Stage:      input.Stage,
				Status:     fresh.Status,
				Output:     stored,
				Escalated:  fresh.Escalated,
				Replayed:   true,
			}, nil
		}
		return nil, fmt.Errorf("pipeline: incident %s moved to %q concurrently: %w", id, fresh.Status, ErrStaleTransition)
	}

	if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	s.emitAudit(ctx, id, input.Stage, "completed", output)

	log.WithField("status", transition.next).Info("Stage completed")
	return &models.StageResult{
		IncidentID: id,
		Stage:      input.Stage,
		Status:     transition.next,
		Output:     output,
	}, nil
}

// runStage выполняет доменную логику одного этапа.
// Четвертый результат - компенсация побочных эффектов этапа (снятие резерва),
// которую вызывающий обязан выполнить, если переход статуса не был применен.
func (s *dispatchPipeline) runStage(ctx context.Context, incident *models.Incident, input models.StageInput) (json.RawMessage, *models.IncidentPatch, func(context.Context), error) {
	switch input.Stage {
	case models.StageTriage:
		output, patch, err := s.runTriage(incident, input)
		return output, patch, nil, err
	case models.StageLocation:
		output, patch, err := s.runLocation(ctx, incident)
		return output, patch, nil, err
	case models.StageDispatch:
		return s.runDispatch(ctx, incident)
	case models.StageHospitalNotify:
		return s.runHospitalNotify(ctx, incident)
	case models.StageAudit:
		output, patch, err := s.runAudit(incident)
		return output, patch, nil, err
	}
	return nil, nil, nil, fmt.Errorf("pipeline: unknown stage %q: %w", input.Stage, ErrValidation)
}

func (s *dispatchPipeline) runTriage(incident *models.Incident, input models.StageInput) (json.RawMessage, *models.IncidentPatch, error) {
	var intake models.IntakeReport
	raw := input.Payload
	if len(raw) == 0 {
		raw = incident.StageOutputs[models.StageIntake]
	}
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("pipeline: no intake data for triage: %w", ErrValidation)
	}
	if err := json.Unmarshal(raw, &intake); err != nil {
		return nil, nil, fmt.Errorf("pipeline: malformed intake payload: %w", ErrValidation)
	}

	report := Triage(intake)
	// Приоритет никогда не понижается относительно уже присвоенного
	if incident.Priority == models.PriorityP1 {
		report.Priority = models.PriorityP1
	}

	output, err := json.Marshal(report)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: could not marshal triage report: %w", err)
	}
	return output, &models.IncidentPatch{
		Priority: &report.Priority,
		Summary:  &report.IncidentSummary,
	}, nil
}

func (s *dispatchPipeline) runLocation(ctx context.Context, incident *models.Incident) (json.RawMessage, *models.IncidentPatch, error) {
	triage, err := s.triageReport(incident)
	if err != nil {
		return nil, nil, err
	}

	report := models.LocationReport{
		ResolvedLocation: models.Location{
			Lat:     incident.Latitude,
			Lng:     incident.Longitude,
			Address: incident.Address,
		},
		RouteDetails:      "direct route at fixed average speed",
		Confidence:        "medium",
		Priority:          incident.Priority,
		RequiredResources: triage.RequiredResources,
	}

	// Геокодер - деградируемый коллаборатор: недоступность не проваливает этап
	address, geoErr := s.geocoder.Reverse(ctx, incident.Latitude, incident.Longitude)
	switch {
	case geoErr != nil:
		s.logger.WithError(geoErr).WithField("incident_id", incident.ID).Warn("Reverse geocoding failed, falling back to raw coordinates")
		report.Confidence = "low"
		report.Notes = "geocoder unavailable, using raw coordinates"
	case address == nil:
		report.Notes = "address unresolved, using raw coordinates"
	default:
		resolved := formatAddress(address)
		report.ResolvedLocation.Address = resolved
		report.Confidence = "high"
	}

	// Оценка ETA по ближайшей свободной бригаде; отсутствие кандидата не ошибка этапа
	candidates, err := s.responders.FindNearest(ctx, incident.Latitude, incident.Longitude,
		s.cfg.ResponderRadiusKM*1000, models.ResponderFilter{Status: models.ResponderAvailable}, 1)
	if err != nil {
		s.logger.WithError(err).WithField("incident_id", incident.ID).Warn("Failed to probe nearest responder for ETA estimate")
	} else if len(candidates) > 0 {
		report.ETAMinutes = int(candidates[0].DistanceMeters / 1000 / s.cfg.AvgSpeedKMH * 60)
	}

	output, err := json.Marshal(report)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: could not marshal location report: %w", err)
	}
	patch := &models.IncidentPatch{}
	if report.ResolvedLocation.Address != "" {
		patch.Address = &report.ResolvedLocation.Address
	}
	return output, patch, nil
}

func (s *dispatchPipeline) runDispatch(ctx context.Context, incident *models.Incident) (json.RawMessage, *models.IncidentPatch, func(context.Context), error) {
	triage, err := s.triageReport(incident)
	if err != nil {
		return nil, nil, nil, err
	}

	vehicleType, capabilities := splitRequirements(triage.RequiredResources)
	reservation, err := s.allocator.Allocate(ctx, models.AllocationRequest{
		IncidentID: incident.ID,
		Kind:       models.KindResponder,
		Latitude:   incident.Latitude,
		Longitude:  incident.Longitude,
		Priority:   incident.Priority,
		Requirements: models.Requirements{
			VehicleType:  vehicleType,
			Capabilities: capabilities,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}

	// Компенсация: бригада и назначение освобождаются, если переход статуса не применился
	compensate := func(cctx context.Context) {
		stale := &models.Assignment{
			ID:          reservation.AssignmentID,
			IncidentID:  incident.ID,
			ResponderID: reservation.ResourceID,
			Status:      models.AssignmentDispatched,
			ETAMinutes:  reservation.ETAMinutes,
			RankWonAt:   reservation.RankWonAt,
		}
		if err := s.allocator.Release(cctx, stale); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"incident_id":  incident.ID,
				"responder_id": reservation.ResourceID,
			}).Error("Failed to release responder reservation after unapplied dispatch")
		}
	}

	report := models.DispatchReport{
		ResponderID:  reservation.ResourceID,
		AssignmentID: reservation.AssignmentID,
		ETAMinutes:   reservation.ETAMinutes,
		RankWonAt:    reservation.RankWonAt,
	}
	output, err := json.Marshal(report)
	if err != nil {
		compensate(ctx)
		return nil, nil, nil, fmt.Errorf("pipeline: could not marshal dispatch report: %w", err)
	}
	responderID := reservation.ResourceID
	return output, &models.IncidentPatch{AssignedResponderID: &responderID}, compensate, nil
}

func (s *dispatchPipeline) runHospitalNotify(ctx context.Context, incident *models.Incident) (json.RawMessage, *models.IncidentPatch, func(context.Context), error) {
	specialty := HospitalSpecialty(incident.IncidentType)
	reservation, err := s.allocator.Allocate(ctx, models.AllocationRequest{
		IncidentID: incident.ID,
		Kind:       models.KindHospital,
		Latitude:   incident.Latitude,
		Longitude:  incident.Longitude,
		Priority:   incident.Priority,
		Requirements: models.Requirements{
			Specialty: specialty,
			MinBeds:   1,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}

	// Компенсация: зарезервированная койка не привязана к назначению, пока этап
	// не зафиксирован, поэтому любой провал ниже обязан вернуть ее сам
	compensate := func(cctx context.Context) {
		if err := s.hospitals.ReleaseBed(cctx, reservation.ResourceID); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"incident_id": incident.ID,
				"hospital_id": reservation.ResourceID,
			}).Error("Failed to release hospital bed after unapplied notification")
		}
	}

	report := models.HospitalReport{
		HospitalID: reservation.ResourceID,
		ETAMinutes: reservation.ETAMinutes,
		Specialty:  specialty,
	}
	if hospital, err := s.hospitals.GetByID(ctx, reservation.ResourceID); err == nil {
		report.Name = hospital.Name
	}

	// Привязываем больницу к активному назначению, чтобы отмена вернула койку
	assignment, err := s.assignments.ActiveByIncident(ctx, incident.ID)
	if err != nil {
		compensate(ctx)
		return nil, nil, nil, fmt.Errorf("pipeline: could not load active assignment: %w", err)
	}
	if assignment != nil {
		if err := s.assignments.SetHospital(ctx, assignment.ID, reservation.ResourceID); err != nil {
			compensate(ctx)
			return nil, nil, nil, fmt.Errorf("pipeline: could not attach hospital to assignment: %w", err)
		}
	}

	output, err := json.Marshal(report)
	if err != nil {
		compensate(ctx)
		return nil, nil, nil, fmt.Errorf("pipeline: could not marshal hospital report: %w", err)
	}
	return output, nil, compensate, nil
}

func (s *dispatchPipeline) runAudit(incident *models.Incident) (json.RawMessage, *models.IncidentPatch, error) {
	completed := make([]models.Stage, 0, len(incident.StageOutputs))
	for _, stage := range models.StageOrder() {
		if _, ok := incident.StageOutputs[stage]; ok {
			completed = append(completed, stage)
		}
	}
	report := models.AuditReport{
		StagesCompleted: completed,
		Escalated:       incident.Escalated,
		Summary:         incident.Summary,
	}
	output, err := json.Marshal(report)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: could not marshal audit report: %w", err)
	}
	return output, nil, nil
}

// escalate помечает инцидент для передачи оператору, сохраняя последний успешный статус и все собранные данные
func (s *dispatchPipeline) escalate(ctx context.Context, incident *models.Incident, stage models.Stage, cause error) (*models.StageResult, error) {
	reason := fmt.Sprintf("stage %s failed after retry: %v", stage, cause)
	if err := s.repo.MarkEscalated(ctx, incident.ID, reason); err != nil {
		return nil, fmt.Errorf("pipeline: could not mark incident escalated: %w", err)
	}
	if err := s.repo.InvalidateIncidentCache(ctx, incident.ID); err != nil {
		s.logger.WithError(err).WithField("incident_id", incident.ID).Warn("Failed to invalidate incident cache")
	}

	payload, _ := json.Marshal(map[string]string{
		"stage":      string(stage),
		"error_kind": string(ClassifyError(cause)),
		"reason":     reason,
	})
	s.emitAudit(ctx, incident.ID, stage, "escalated", payload)

	return &models.StageResult{
		IncidentID: incident.ID,
		Stage:      stage,
		Status:     incident.Status,
		Escalated:  true,
	}, nil
}

// Cancel переводит инцидент в cancelled из любого нетерминального статуса.
// Активный резерв обязан быть снят в рамках той же операции.
func (s *dispatchPipeline) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "pipeline",
		"method":      "Cancel",
		"incident_id": id,
	})

	incident, err := s.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if incident.Status.IsTerminal() {
		return fmt.Errorf("pipeline: incident %s already %s: %w", id, incident.Status, ErrIncidentTerminal)
	}

	// Сначала компенсация: бригада и койка освобождаются до смены статуса
	assignment, err := s.assignments.ActiveByIncident(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: could not load active assignment: %w", err)
	}
	if assignment != nil {
		if err := s.allocator.Release(ctx, assignment); err != nil {
			return fmt.Errorf("pipeline: could not release reservation on cancel: %w", err)
		}
		log.WithField("responder_id", assignment.ResponderID).Info("Reservation released on cancellation")
	}

	if err := s.transitionTerminal(ctx, incident, models.StatusCancelled); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"reason": reason})
	s.emitAudit(ctx, id, models.Stage("cancel"), "cancelled", payload)
	log.Info("Incident cancelled")
	return nil
}

// Resolve переводит инцидент в resolved и закрывает активное назначение
func (s *dispatchPipeline) Resolve(ctx context.Context, id uuid.UUID) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "pipeline",
		"method":      "Resolve",
		"incident_id": id,
	})

	incident, err := s.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if incident.Status.IsTerminal() {
		return fmt.Errorf("pipeline: incident %s already %s: %w", id, incident.Status, ErrIncidentTerminal)
	}

	assignment, err := s.assignments.ActiveByIncident(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: could not load active assignment: %w", err)
	}
	if assignment != nil {
		if err := s.allocator.Complete(ctx, assignment); err != nil {
			return fmt.Errorf("pipeline: could not complete assignment on resolve: %w", err)
		}
	}

	if err := s.transitionTerminal(ctx, incident, models.StatusResolved); err != nil {
		return err
	}

	s.emitAudit(ctx, id, models.Stage("resolve"), "resolved", nil)
	log.Info("Incident resolved")
	return nil
}

// transitionTerminal выполняет условный переход в терминальный статус с одним повтором при гонке
func (s *dispatchPipeline) transitionTerminal(ctx context.Context, incident *models.Incident, next models.IncidentStatus) error {
	expected := incident.Status
	for attempt := 0; attempt < 2; attempt++ {
		applied, err := s.repo.UpdateStageCAS(ctx, incident.ID, expected, next, &models.IncidentPatch{})
		if err != nil {
			return fmt.Errorf("pipeline: could not persist terminal transition: %w", err)
		}
		if applied {
			if err := s.repo.InvalidateIncidentCache(ctx, incident.ID); err != nil {
				s.logger.WithError(err).WithField("incident_id", incident.ID).Warn("Failed to invalidate incident cache")
			}
			return nil
		}

		fresh, err := s.repo.GetByID(ctx, incident.ID)
		if err != nil {
			return fmt.Errorf("pipeline: could not re-read incident: %w", err)
		}
		if fresh.Status.IsTerminal() {
			if fresh.Status == next {
				return nil
			}
			return fmt.Errorf("pipeline: incident %s already %s: %w", incident.ID, fresh.Status, ErrIncidentTerminal)
		}
		expected = fresh.Status
	}
	return fmt.Errorf("pipeline: terminal transition for incident %s kept losing races: %w", incident.ID, ErrStaleTransition)
}

// GetIncident получает инцидент по ID, используя кеш
func (s *dispatchPipeline) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	cached, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("incident_id", id).Warn("Incident cache read failed")
	}
	if cached != nil {
		return cached, nil
	}

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pipeline: could not get incident: %w", err)
	}
	if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
		s.logger.WithError(err).WithField("incident_id", id).Warn("Incident cache write failed")
	}
	return incident, nil
}

// ListIncidents возвращает список инцидентов с пагинацией
func (s *dispatchPipeline) ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	incidents, err := s.repo.List(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("pipeline: could not list incidents: %w", err)
	}
	return incidents, nil
}

// ListAssignments возвращает историю назначений инцидента
func (s *dispatchPipeline) ListAssignments(ctx context.Context, id uuid.UUID) ([]*models.Assignment, error) {
	assignments, err := s.assignments.ListByIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pipeline: could not list assignments: %w", err)
	}
	return assignments, nil
}

// GetStats возвращает сводку для операторской панели
func (s *dispatchPipeline) GetStats(ctx context.Context) (*models.DashboardStats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: could not get stats: %w", err)
	}
	return stats, nil
}

// emitAudit публикует событие аудита. Сбой доставки логируется и никогда не блокирует конвейер.
func (s *dispatchPipeline) emitAudit(ctx context.Context, id uuid.UUID, stage models.Stage, outcome string, payload json.RawMessage) {
	event := audit.Event{
		IncidentID: id,
		Stage:      string(stage),
		Timestamp:  time.Now().UTC(),
		Outcome:    outcome,
		Payload:    payload,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"incident_id": id,
			"stage":       stage,
		}).Warn("Failed to publish audit event")
	}
}

// triageReport извлекает сохраненный результат триажа инцидента
func (s *dispatchPipeline) triageReport(incident *models.Incident) (*models.TriageReport, error) {
	raw, ok := incident.StageOutputs[models.StageTriage]
	if !ok {
		return nil, fmt.Errorf("pipeline: incident %s has no triage output: %w", incident.ID, ErrValidation)
	}
	var report models.TriageReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("pipeline: malformed triage output: %w", ErrValidation)
	}
	return &report, nil
}

// splitRequirements делит required_resources на тип транспорта и набор возможностей
func splitRequirements(resources []string) (string, []string) {
	vehicleType := ""
	capabilities := make([]string, 0, len(resources))
	for _, r := range resources {
		if vehicleTypes[r] {
			if vehicleType == "" {
				vehicleType = r
			}
			continue
		}
		capabilities = append(capabilities, r)
	}
	return vehicleType, capabilities
}

// formatAddress собирает каноническую строку адреса из ответа геокодера
func formatAddress(a *models.Address) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.City, a.State, a.Postcode, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
