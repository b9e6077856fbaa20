package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/audit"
	audit_mocks "github.com/shenikar/emergency_dispatch_system/internal/audit/mocks"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// pipelineMocks группирует моки всех коллабораторов конвейера
type pipelineMocks struct {
	repo        *mocks.MockIncidentRepository
	assignments *mocks.MockAssignmentRepository
	responders  *mocks.MockResponderRepository
	hospitals   *mocks.MockHospitalRepository
	allocator   *mocks.MockAllocator
	geocoder    *mocks.MockGeocoder
	publisher   *audit_mocks.MockPublisher
}

// newTestPipeline — вспомогательная функция для создания конвейера с моками.
func newTestPipeline(t *testing.T) (DispatchPipeline, *pipelineMocks) {
	return newTestPipelineWithStageTimeout(t, 2*time.Second)
}

// newTestPipelineWithStageTimeout создает конвейер с заданным дедлайном этапа для P1
func newTestPipelineWithStageTimeout(t *testing.T, p1Timeout time.Duration) (DispatchPipeline, *pipelineMocks) {
	ctrl := gomock.NewController(t)
	m := &pipelineMocks{
		repo:        mocks.NewMockIncidentRepository(ctrl),
		assignments: mocks.NewMockAssignmentRepository(ctrl),
		responders:  mocks.NewMockResponderRepository(ctrl),
		hospitals:   mocks.NewMockHospitalRepository(ctrl),
		allocator:   mocks.NewMockAllocator(ctrl),
		geocoder:    mocks.NewMockGeocoder(ctrl),
		publisher:   audit_mocks.NewMockPublisher(ctrl),
	}

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		ResponderRadiusKM: 10,
		HospitalRadiusKM:  20,
		RadiusExpansions:  2,
		CandidateLimit:    10,
		AvgSpeedKMH:       40,
		StageTimeoutP1:    p1Timeout,
		StageTimeoutP2:    10 * time.Second,
		StageTimeoutP3:    30 * time.Second,
	}

	pipeline := NewDispatchPipeline(m.repo, m.assignments, m.responders, m.hospitals, m.allocator, m.geocoder, m.publisher, cfg, logger)
	return pipeline, m
}

func intakeIncident(t *testing.T, status models.IncidentStatus, priority models.Priority) *models.Incident {
	t.Helper()
	intake := models.IntakeReport{
		CallerName:    "Jane Roe",
		EmergencyType: "cardiac",
		Symptoms:      "cardiac arrest",
		Location:      models.Location{Lat: 55.75, Lng: 37.61},
		ContactNumber: "+7-900-000-00-00",
	}
	raw, err := json.Marshal(intake)
	require.NoError(t, err)

	return &models.Incident{
		ID:           uuid.New(),
		CallerName:   intake.CallerName,
		CallerPhone:  intake.ContactNumber,
		IncidentType: intake.EmergencyType,
		Symptoms:     intake.Symptoms,
		Latitude:     intake.Location.Lat,
		Longitude:    intake.Location.Lng,
		Priority:     priority,
		Status:       status,
		StageOutputs: map[models.Stage]json.RawMessage{models.StageIntake: raw},
	}
}

func withTriageOutput(t *testing.T, incident *models.Incident, report models.TriageReport) *models.Incident {
	t.Helper()
	raw, err := json.Marshal(report)
	require.NoError(t, err)
	incident.StageOutputs[models.StageTriage] = raw
	return incident
}

func TestCreateIncident_Success(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()

	// Ожидания
	m.repo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).
		Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, err := pipeline.CreateIncident(ctx, models.IntakeReport{
		CallerName:    "Jane Roe",
		EmergencyType: "medical",
		Symptoms:      "sprained ankle",
		Location:      models.Location{Lat: 55.75, Lng: 37.61},
		ContactNumber: "+7-900-000-00-00",
	})

	// Проверки
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, incident.ID)
	assert.Equal(t, models.StatusIntake, incident.Status)
	assert.Equal(t, models.PriorityP3, incident.Priority)
	assert.Contains(t, incident.StageOutputs, models.StageIntake)
}

func TestCreateIncident_LifeThreateningFlagForcesP1(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()

	// Ожидания
	m.repo.EXPECT().Create(ctx, gomock.Any()).Return(nil).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие: сбор данных прерван флагом, симптомы не собраны
	incident, err := pipeline.CreateIncident(ctx, models.IntakeReport{
		CallerName:          "Jane Roe",
		EmergencyType:       "unknown",
		ContactNumber:       "+7-900-000-00-00",
		LifeThreateningFlag: true,
	})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.PriorityP1, incident.Priority)
}

func TestCreateIncident_MissingEmergencyType(t *testing.T) {
	pipeline, m := newTestPipeline(t)

	m.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

	_, err := pipeline.CreateIncident(context.Background(), models.IntakeReport{
		CallerName:    "Jane Roe",
		ContactNumber: "+7-900-000-00-00",
	})

	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdvance_TriageSuccess(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusIntake, models.PriorityP3)

	// Ожидания
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusIntake, models.StatusTriaged, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _, _ models.IncidentStatus, patch *models.IncidentPatch) (bool, error) {
			require.NotNil(t, patch)
			assert.Equal(t, models.StageTriage, patch.Stage)
			require.NotNil(t, patch.Priority)
			// Симптомы "cardiac arrest" дают P1
			assert.Equal(t, models.PriorityP1, *patch.Priority)
			assert.NotEmpty(t, patch.StageOutput)
			return true, nil
		}).
		Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageTriage})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusTriaged, result.Status)
	assert.False(t, result.Replayed)
	assert.False(t, result.Escalated)

	var report models.TriageReport
	require.NoError(t, json.Unmarshal(result.Output, &report))
	assert.Equal(t, models.PriorityP1, report.Priority)
}

func TestAdvance_CompletedStageIsReplayed(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusTriaged, models.PriorityP2)
	stored := json.RawMessage(`{"priority":"P2"}`)
	incident.StageOutputs[models.StageTriage] = stored

	// Ожидания: ни перехода, ни нового события аудита
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageTriage})

	// Проверки
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, stored, result.Output)
	assert.Equal(t, models.StatusTriaged, result.Status)
}

func TestAdvance_OutOfOrderStage(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusIntake, models.PriorityP3)

	// Ожидания
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)

	// Действие: dispatch требует located, инцидент еще в intake
	_, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageDispatch})

	// Проверки
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestAdvance_TerminalIncident(t *testing.T) {
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusCancelled, models.PriorityP3)

	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)

	_, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageTriage})

	assert.ErrorIs(t, err, ErrIncidentTerminal)
}

func TestAdvance_UnknownStage(t *testing.T) {
	pipeline, _ := newTestPipeline(t)

	_, err := pipeline.Advance(context.Background(), uuid.New(), models.StageInput{Stage: models.Stage("teleport")})

	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdvance_LocationWithGeocoderDegraded(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusTriaged, models.PriorityP1), models.TriageReport{
		Priority:          models.PriorityP1,
		RequiredResources: []string{"ambulance", "paramedics"},
	})

	// Ожидания: геокодер недоступен, этап деградирует до сырых координат
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.geocoder.EXPECT().Reverse(gomock.Any(), incident.Latitude, incident.Longitude).Return(nil, assert.AnError).Times(1)
	m.responders.EXPECT().
		FindNearest(gomock.Any(), incident.Latitude, incident.Longitude, 10000.0, models.ResponderFilter{Status: models.ResponderAvailable}, 1).
		Return([]*models.ResponderCandidate{{Responder: models.Responder{ID: uuid.New()}, DistanceMeters: 6000}}, nil).
		Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusTriaged, models.StatusLocated, gomock.Any()).
		Return(true, nil).
		Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageLocation})

	// Проверки
	require.NoError(t, err)
	var report models.LocationReport
	require.NoError(t, json.Unmarshal(result.Output, &report))
	assert.Equal(t, "low", report.Confidence)
	assert.Equal(t, incident.Latitude, report.ResolvedLocation.Lat)
	// 6 км при 40 км/ч — 9 минут
	assert.Equal(t, 9, report.ETAMinutes)
}

func TestAdvance_LocationResolvesAddress(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusTriaged, models.PriorityP2), models.TriageReport{
		Priority:          models.PriorityP2,
		RequiredResources: []string{"ambulance"},
	})

	// Ожидания
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.geocoder.EXPECT().
		Reverse(gomock.Any(), incident.Latitude, incident.Longitude).
		Return(&models.Address{City: "Moscow", Country: "Russia", Postcode: "125009"}, nil).
		Times(1)
	m.responders.EXPECT().
		FindNearest(gomock.Any(), incident.Latitude, incident.Longitude, 10000.0, models.ResponderFilter{Status: models.ResponderAvailable}, 1).
		Return(nil, nil).
		Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusTriaged, models.StatusLocated, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _, _ models.IncidentStatus, patch *models.IncidentPatch) (bool, error) {
			require.NotNil(t, patch.Address)
			assert.Equal(t, "Moscow, 125009, Russia", *patch.Address)
			return true, nil
		}).
		Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageLocation})

	// Проверки
	require.NoError(t, err)
	var report models.LocationReport
	require.NoError(t, json.Unmarshal(result.Output, &report))
	assert.Equal(t, "high", report.Confidence)
	assert.Equal(t, "Moscow, 125009, Russia", report.ResolvedLocation.Address)
}

func TestAdvance_DispatchSuccess(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusLocated, models.PriorityP1), models.TriageReport{
		Priority:          models.PriorityP1,
		RequiredResources: []string{"ambulance", "defibrillator", "paramedics"},
	})
	responderID := uuid.New()
	assignmentID := uuid.New()

	// Ожидания
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.allocator.EXPECT().
		Allocate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req models.AllocationRequest) (*models.Reservation, error) {
			assert.Equal(t, models.KindResponder, req.Kind)
			// Тип транспорта отделяется от возможностей
			assert.Equal(t, "ambulance", req.Requirements.VehicleType)
			assert.Equal(t, []string{"defibrillator", "paramedics"}, req.Requirements.Capabilities)
			return &models.Reservation{
				Kind:         models.KindResponder,
				ResourceID:   responderID,
				AssignmentID: assignmentID,
				ETAMinutes:   7,
				RankWonAt:    1,
			}, nil
		}).
		Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusLocated, models.StatusDispatched, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _, _ models.IncidentStatus, patch *models.IncidentPatch) (bool, error) {
			require.NotNil(t, patch.AssignedResponderID)
			assert.Equal(t, responderID, *patch.AssignedResponderID)
			return true, nil
		}).
		Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageDispatch})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, result.Status)

	var report models.DispatchReport
	require.NoError(t, json.Unmarshal(result.Output, &report))
	assert.Equal(t, responderID, report.ResponderID)
	assert.Equal(t, assignmentID, report.AssignmentID)
}

func TestAdvance_DispatchRetriesOnceThenEscalates(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusLocated, models.PriorityP2), models.TriageReport{
		Priority:          models.PriorityP2,
		RequiredResources: []string{"ambulance"},
	})

	// Ожидания: первая неудача повторяется, вторая эскалирует
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.allocator.EXPECT().
		Allocate(gomock.Any(), gomock.Any()).
		Return(nil, ErrNoCandidate).
		Times(2)
	m.repo.EXPECT().MarkEscalated(ctx, incident.ID, gomock.Any()).Return(nil).Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, event audit.Event) error {
			assert.Equal(t, "escalated", event.Outcome)
			return nil
		}).
		Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageDispatch})

	// Проверки: инцидент не потерян, последний успешный статус сохранен
	require.NoError(t, err)
	assert.True(t, result.Escalated)
	assert.Equal(t, models.StatusLocated, result.Status)
}

func TestAdvance_ValidationAbortsWithoutRetry(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	// Триаж без данных приема: ни payload, ни сохраненного intake
	incident := &models.Incident{
		ID:           uuid.New(),
		Status:       models.StatusIntake,
		Priority:     models.PriorityP3,
		StageOutputs: map[models.Stage]json.RawMessage{},
	}

	// Ожидания: ошибка валидации не повторяется и не эскалирует
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)

	// Действие
	_, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageTriage})

	// Проверки
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdvance_LostCASReplaysConcurrentResult(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusIntake, models.PriorityP3)

	fresh := intakeIncident(t, models.StatusTriaged, models.PriorityP3)
	fresh.ID = incident.ID
	stored := json.RawMessage(`{"priority":"P3"}`)
	fresh.StageOutputs[models.StageTriage] = stored

	// Ожидания: конкурент выиграл переход, его результат воспроизводится без нового аудита
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusIntake, models.StatusTriaged, gomock.Any()).
		Return(false, nil).
		Times(1)
	m.repo.EXPECT().GetByID(ctx, incident.ID).Return(fresh, nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageTriage})

	// Проверки
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, stored, result.Output)
}

func TestAdvance_DispatchLostCASReleasesReservation(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusLocated, models.PriorityP2), models.TriageReport{
		Priority:          models.PriorityP2,
		RequiredResources: []string{"ambulance"},
	})
	responderID := uuid.New()
	assignmentID := uuid.New()

	fresh := intakeIncident(t, models.StatusDispatched, models.PriorityP2)
	fresh.ID = incident.ID
	stored := json.RawMessage(`{"responder_id":"` + uuid.New().String() + `"}`)
	fresh.StageOutputs[models.StageDispatch] = stored

	// Ожидания: резерв создан, но переход статуса проигран конкуренту.
	// Бригада проигравшего обязана вернуться в available, его назначение закрыться.
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.allocator.EXPECT().
		Allocate(gomock.Any(), gomock.Any()).
		Return(&models.Reservation{
			Kind:         models.KindResponder,
			ResourceID:   responderID,
			AssignmentID: assignmentID,
			ETAMinutes:   7,
			RankWonAt:    1,
		}, nil).
		Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusLocated, models.StatusDispatched, gomock.Any()).
		Return(false, nil).
		Times(1)
	m.allocator.EXPECT().
		Release(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, stale *models.Assignment) error {
			assert.Equal(t, assignmentID, stale.ID)
			assert.Equal(t, responderID, stale.ResponderID)
			return nil
		}).
		Times(1)
	m.repo.EXPECT().GetByID(ctx, incident.ID).Return(fresh, nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageDispatch})

	// Проверки: результат победителя воспроизведен, резерв проигравшего не утек
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, stored, result.Output)
}

func TestAdvance_DispatchCASErrorReleasesReservation(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusLocated, models.PriorityP3), models.TriageReport{
		Priority:          models.PriorityP3,
		RequiredResources: []string{"ambulance"},
	})
	assignmentID := uuid.New()

	// Ожидания: ошибка записи перехода тоже снимает резерв
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.allocator.EXPECT().
		Allocate(gomock.Any(), gomock.Any()).
		Return(&models.Reservation{
			Kind:         models.KindResponder,
			ResourceID:   uuid.New(),
			AssignmentID: assignmentID,
		}, nil).
		Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusLocated, models.StatusDispatched, gomock.Any()).
		Return(false, assert.AnError).
		Times(1)
	m.allocator.EXPECT().
		Release(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, stale *models.Assignment) error {
			assert.Equal(t, assignmentID, stale.ID)
			return nil
		}).
		Times(1)

	// Действие
	_, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageDispatch})

	// Проверки
	assert.Error(t, err)
}

func TestAdvance_HospitalNotifyLinkFailureReleasesBed(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusDispatched, models.PriorityP2), models.TriageReport{
		Priority:          models.PriorityP2,
		RequiredResources: []string{"ambulance"},
	})
	hospitalID := uuid.New()

	// Ожидания: койка уже списана, провал привязки к назначению обязан ее вернуть.
	// Политика повторяет этап один раз, затем эскалирует; списаний без возврата нет.
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.allocator.EXPECT().
		Allocate(gomock.Any(), gomock.Any()).
		Return(&models.Reservation{Kind: models.KindHospital, ResourceID: hospitalID, ETAMinutes: 9}, nil).
		Times(2)
	m.hospitals.EXPECT().
		GetByID(gomock.Any(), hospitalID).
		Return(&models.Hospital{ID: hospitalID, Name: "City General"}, nil).
		Times(2)
	m.assignments.EXPECT().ActiveByIncident(gomock.Any(), incident.ID).Return(nil, assert.AnError).Times(2)
	m.hospitals.EXPECT().ReleaseBed(gomock.Any(), hospitalID).Return(nil).Times(2)
	m.repo.EXPECT().MarkEscalated(ctx, incident.ID, gomock.Any()).Return(nil).Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, event audit.Event) error {
			assert.Equal(t, "escalated", event.Outcome)
			return nil
		}).
		Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageHospitalNotify})

	// Проверки
	require.NoError(t, err)
	assert.True(t, result.Escalated)
}

func TestAdvance_HospitalNotifyLostCASReleasesBed(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusDispatched, models.PriorityP1), models.TriageReport{
		Priority:          models.PriorityP1,
		RequiredResources: []string{"ambulance"},
	})
	hospitalID := uuid.New()
	assignment := &models.Assignment{
		ID:          uuid.New(),
		IncidentID:  incident.ID,
		ResponderID: uuid.New(),
		Status:      models.AssignmentDispatched,
	}

	fresh := intakeIncident(t, models.StatusHospitalNotified, models.PriorityP1)
	fresh.ID = incident.ID
	stored := json.RawMessage(`{"hospital_id":"` + uuid.New().String() + `"}`)
	fresh.StageOutputs[models.StageHospitalNotify] = stored

	// Ожидания: переход проигран после списания койки, койка возвращается
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.allocator.EXPECT().
		Allocate(gomock.Any(), gomock.Any()).
		Return(&models.Reservation{Kind: models.KindHospital, ResourceID: hospitalID, ETAMinutes: 9}, nil).
		Times(1)
	m.hospitals.EXPECT().
		GetByID(gomock.Any(), hospitalID).
		Return(&models.Hospital{ID: hospitalID, Name: "City General"}, nil).
		Times(1)
	m.assignments.EXPECT().ActiveByIncident(gomock.Any(), incident.ID).Return(assignment, nil).Times(1)
	m.assignments.EXPECT().SetHospital(gomock.Any(), assignment.ID, hospitalID).Return(nil).Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusDispatched, models.StatusHospitalNotified, gomock.Any()).
		Return(false, nil).
		Times(1)
	m.hospitals.EXPECT().ReleaseBed(gomock.Any(), hospitalID).Return(nil).Times(1)
	m.repo.EXPECT().GetByID(ctx, incident.ID).Return(fresh, nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageHospitalNotify})

	// Проверки
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, stored, result.Output)
}

func TestAdvance_TimeoutRetryRunsUnderFreshDeadline(t *testing.T) {
	// Подготовка: короткий дедлайн P1, чтобы первая попытка истекла быстро
	pipeline, m := newTestPipelineWithStageTimeout(t, 50*time.Millisecond)
	ctx := context.Background()
	incident := withTriageOutput(t, intakeIncident(t, models.StatusLocated, models.PriorityP1), models.TriageReport{
		Priority:          models.PriorityP1,
		RequiredResources: []string{"ambulance"},
	})
	responderID := uuid.New()

	// Ожидания: первая аллокация исчерпывает дедлайн этапа, повтор
	// получает собственный дедлайн и успевает завершиться
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	gomock.InOrder(
		m.allocator.EXPECT().
			Allocate(gomock.Any(), gomock.Any()).
			DoAndReturn(func(allocCtx context.Context, _ models.AllocationRequest) (*models.Reservation, error) {
				<-allocCtx.Done()
				return nil, allocCtx.Err()
			}).
			Times(1),
		m.allocator.EXPECT().
			Allocate(gomock.Any(), gomock.Any()).
			DoAndReturn(func(allocCtx context.Context, _ models.AllocationRequest) (*models.Reservation, error) {
				assert.NoError(t, allocCtx.Err(), "retry must start with a live stage deadline")
				return &models.Reservation{
					Kind:         models.KindResponder,
					ResourceID:   responderID,
					AssignmentID: uuid.New(),
					ETAMinutes:   4,
					RankWonAt:    1,
				}, nil
			}).
			Times(1),
	)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusLocated, models.StatusDispatched, gomock.Any()).
		Return(true, nil).
		Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageDispatch})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, result.Status)
	assert.False(t, result.Escalated)
}

func TestAdvance_ConcurrentAuditReplaysWinner(t *testing.T) {
	// Подготовка: этап аудита не меняет статус, гонку решает
	// условие отсутствия записанного результата этапа
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusHospitalNotified, models.PriorityP3)

	fresh := intakeIncident(t, models.StatusHospitalNotified, models.PriorityP3)
	fresh.ID = incident.ID
	stored := json.RawMessage(`{"stages_completed":["intake"]}`)
	fresh.StageOutputs[models.StageAudit] = stored

	// Ожидания: условное обновление проиграно, событие аудита не дублируется
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusHospitalNotified, models.StatusHospitalNotified, gomock.Any()).
		Return(false, nil).
		Times(1)
	m.repo.EXPECT().GetByID(ctx, incident.ID).Return(fresh, nil).Times(1)

	// Действие
	result, err := pipeline.Advance(ctx, incident.ID, models.StageInput{Stage: models.StageAudit})

	// Проверки
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, stored, result.Output)
}

func TestCancel_ReleasesActiveReservation(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusDispatched, models.PriorityP2)
	assignment := &models.Assignment{
		ID:          uuid.New(),
		IncidentID:  incident.ID,
		ResponderID: uuid.New(),
		Status:      models.AssignmentDispatched,
	}

	// Ожидания: компенсация выполняется до смены статуса
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.assignments.EXPECT().ActiveByIncident(ctx, incident.ID).Return(assignment, nil).Times(1)
	m.allocator.EXPECT().Release(ctx, assignment).Return(nil).Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusDispatched, models.StatusCancelled, gomock.Any()).
		Return(true, nil).
		Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, event audit.Event) error {
			assert.Equal(t, "cancelled", event.Outcome)
			return nil
		}).
		Times(1)

	// Действие и проверки
	require.NoError(t, pipeline.Cancel(ctx, incident.ID, "caller cancelled the request"))
}

func TestCancel_TerminalIncident(t *testing.T) {
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusResolved, models.PriorityP3)

	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)

	err := pipeline.Cancel(ctx, incident.ID, "too late")

	assert.ErrorIs(t, err, ErrIncidentTerminal)
}

func TestResolve_CompletesAssignment(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusHospitalNotified, models.PriorityP1)
	assignment := &models.Assignment{
		ID:          uuid.New(),
		IncidentID:  incident.ID,
		ResponderID: uuid.New(),
		Status:      models.AssignmentEnRoute,
	}

	// Ожидания
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(incident, nil).Times(1)
	m.assignments.EXPECT().ActiveByIncident(ctx, incident.ID).Return(assignment, nil).Times(1)
	m.allocator.EXPECT().Complete(ctx, assignment).Return(nil).Times(1)
	m.repo.EXPECT().
		UpdateStageCAS(ctx, incident.ID, models.StatusHospitalNotified, models.StatusResolved, gomock.Any()).
		Return(true, nil).
		Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие и проверки
	require.NoError(t, pipeline.Resolve(ctx, incident.ID))
}

func TestGetIncident_CacheMissFallsBackToDB(t *testing.T) {
	// Подготовка
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()
	incident := intakeIncident(t, models.StatusIntake, models.PriorityP3)

	// Ожидания
	m.repo.EXPECT().GetIncidentFromCache(ctx, incident.ID).Return(nil, nil).Times(1)
	m.repo.EXPECT().GetByID(ctx, incident.ID).Return(incident, nil).Times(1)
	m.repo.EXPECT().SetIncidentCache(ctx, incident).Return(nil).Times(1)

	// Действие
	got, err := pipeline.GetIncident(ctx, incident.ID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, incident, got)
}

func TestListIncidents_ClampsPagination(t *testing.T) {
	pipeline, m := newTestPipeline(t)
	ctx := context.Background()

	m.repo.EXPECT().List(ctx, 1, 20).Return([]*models.Incident{}, nil).Times(1)

	_, err := pipeline.ListIncidents(ctx, 0, 1000)

	require.NoError(t, err)
}
