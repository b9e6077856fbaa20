package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// newTestAllocationEngine — вспомогательная функция для создания движка с моками.
func newTestAllocationEngine(t *testing.T) (*AllocationEngine, *mocks.MockResponderRepository, *mocks.MockHospitalRepository, *mocks.MockAssignmentRepository) {
	ctrl := gomock.NewController(t)
	respondersMock := mocks.NewMockResponderRepository(ctrl)
	hospitalsMock := mocks.NewMockHospitalRepository(ctrl)
	assignmentsMock := mocks.NewMockAssignmentRepository(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		ResponderRadiusKM: 10,
		HospitalRadiusKM:  20,
		RadiusExpansions:  2,
		CandidateLimit:    10,
		AvgSpeedKMH:       40,
	}

	engine := NewAllocationEngine(respondersMock, hospitalsMock, assignmentsMock, cfg, logger)
	return engine, respondersMock, hospitalsMock, assignmentsMock
}

func responderCandidate(distanceMeters float64, load int) *models.ResponderCandidate {
	return &models.ResponderCandidate{
		Responder: models.Responder{
			ID:         uuid.New(),
			Status:     models.ResponderAvailable,
			ActiveLoad: load,
		},
		DistanceMeters: distanceMeters,
	}
}

func TestAllocate_ResponderSuccess(t *testing.T) {
	// Подготовка
	engine, respondersMock, _, assignmentsMock := newTestAllocationEngine(t)
	ctx := context.Background()
	incidentID := uuid.New()
	candidate := responderCandidate(4000, 0)

	// Ожидания
	respondersMock.EXPECT().
		FindNearest(gomock.Any(), 55.75, 37.61, 10000.0, models.ResponderFilter{
			Status:       models.ResponderAvailable,
			VehicleType:  "ambulance",
			Capabilities: []string{"defibrillator"},
		}, 10).
		Return([]*models.ResponderCandidate{candidate}, nil).
		Times(1)
	respondersMock.EXPECT().
		Reserve(gomock.Any(), candidate.ID, models.ResponderAvailable, models.ResponderReserved).
		Return(true, nil).
		Times(1)
	assignmentsMock.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, a *models.Assignment) error {
			a.ID = uuid.New()
			assert.Equal(t, incidentID, a.IncidentID)
			assert.Equal(t, candidate.ID, a.ResponderID)
			assert.Equal(t, models.AssignmentDispatched, a.Status)
			return nil
		}).
		Times(1)
	respondersMock.EXPECT().AdjustLoad(gomock.Any(), candidate.ID, 1).Return(nil).Times(1)

	// Действие
	reservation, err := engine.Allocate(ctx, models.AllocationRequest{
		IncidentID: incidentID,
		Kind:       models.KindResponder,
		Latitude:   55.75,
		Longitude:  37.61,
		Priority:   models.PriorityP2,
		Requirements: models.Requirements{
			VehicleType:  "ambulance",
			Capabilities: []string{"defibrillator"},
		},
	})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, candidate.ID, reservation.ResourceID)
	assert.Equal(t, models.KindResponder, reservation.Kind)
	// 4 км при 40 км/ч — 6 минут
	assert.Equal(t, 6, reservation.ETAMinutes)
	assert.Equal(t, 1, reservation.RankWonAt)
	assert.NotEqual(t, uuid.Nil, reservation.AssignmentID)
}

func TestAllocate_RadiusExpansion(t *testing.T) {
	// Подготовка
	engine, respondersMock, _, assignmentsMock := newTestAllocationEngine(t)
	ctx := context.Background()
	candidate := responderCandidate(15000, 0)
	filter := models.ResponderFilter{Status: models.ResponderAvailable, Capabilities: []string{}}

	// Ожидания: пусто на 10 км, удвоение до 20 км находит кандидата
	gomock.InOrder(
		respondersMock.EXPECT().
			FindNearest(gomock.Any(), 55.75, 37.61, 10000.0, filter, 10).
			Return(nil, nil),
		respondersMock.EXPECT().
			FindNearest(gomock.Any(), 55.75, 37.61, 20000.0, filter, 10).
			Return([]*models.ResponderCandidate{candidate}, nil),
	)
	respondersMock.EXPECT().
		Reserve(gomock.Any(), candidate.ID, models.ResponderAvailable, models.ResponderReserved).
		Return(true, nil).
		Times(1)
	assignmentsMock.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	respondersMock.EXPECT().AdjustLoad(gomock.Any(), candidate.ID, 1).Return(nil).Times(1)

	// Действие
	reservation, err := engine.Allocate(ctx, models.AllocationRequest{
		Kind:         models.KindResponder,
		Latitude:     55.75,
		Longitude:    37.61,
		Priority:     models.PriorityP2,
		Requirements: models.Requirements{Capabilities: []string{}},
	})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, candidate.ID, reservation.ResourceID)
}

func TestAllocate_NoCandidateKeepsRequirements(t *testing.T) {
	// Подготовка
	engine, respondersMock, _, _ := newTestAllocationEngine(t)
	ctx := context.Background()
	filter := models.ResponderFilter{
		Status:       models.ResponderAvailable,
		VehicleType:  "ambulance",
		Capabilities: []string{"trauma"},
	}

	// Ожидания: фильтр требований одинаков на каждом расширении радиуса и никогда не ослабляется
	gomock.InOrder(
		respondersMock.EXPECT().FindNearest(gomock.Any(), 55.75, 37.61, 10000.0, filter, 10).Return(nil, nil),
		respondersMock.EXPECT().FindNearest(gomock.Any(), 55.75, 37.61, 20000.0, filter, 10).Return(nil, nil),
		respondersMock.EXPECT().FindNearest(gomock.Any(), 55.75, 37.61, 40000.0, filter, 10).Return(nil, nil),
	)

	// Действие
	reservation, err := engine.Allocate(ctx, models.AllocationRequest{
		Kind:      models.KindResponder,
		Latitude:  55.75,
		Longitude: 37.61,
		Priority:  models.PriorityP1,
		Requirements: models.Requirements{
			VehicleType:  "ambulance",
			Capabilities: []string{"trauma"},
		},
	})

	// Проверки
	require.ErrorIs(t, err, ErrNoCandidate)
	assert.Nil(t, reservation)
}

func TestAllocate_ReservationFallThrough(t *testing.T) {
	// Подготовка
	engine, respondersMock, _, assignmentsMock := newTestAllocationEngine(t)
	ctx := context.Background()
	first := responderCandidate(2000, 0)
	second := responderCandidate(5000, 0)
	filter := models.ResponderFilter{Status: models.ResponderAvailable, Capabilities: []string{}}

	// Ожидания: первый по рангу проигран конкурентному резерву, берем второго
	respondersMock.EXPECT().
		FindNearest(gomock.Any(), 55.75, 37.61, 10000.0, filter, 10).
		Return([]*models.ResponderCandidate{first, second}, nil).
		Times(1)
	gomock.InOrder(
		respondersMock.EXPECT().
			Reserve(gomock.Any(), first.ID, models.ResponderAvailable, models.ResponderReserved).
			Return(false, nil),
		respondersMock.EXPECT().
			Reserve(gomock.Any(), second.ID, models.ResponderAvailable, models.ResponderReserved).
			Return(true, nil),
	)
	assignmentsMock.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	respondersMock.EXPECT().AdjustLoad(gomock.Any(), second.ID, 1).Return(nil).Times(1)

	// Действие
	reservation, err := engine.Allocate(ctx, models.AllocationRequest{
		Kind:         models.KindResponder,
		Latitude:     55.75,
		Longitude:    37.61,
		Priority:     models.PriorityP2,
		Requirements: models.Requirements{Capabilities: []string{}},
	})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, second.ID, reservation.ResourceID)
	assert.Equal(t, 2, reservation.RankWonAt)
}

func TestAllocate_SecondPassAfterAllCandidatesLost(t *testing.T) {
	// Подготовка
	engine, respondersMock, _, assignmentsMock := newTestAllocationEngine(t)
	ctx := context.Background()
	stale := responderCandidate(2000, 0)
	fresh := responderCandidate(3000, 0)
	filter := models.ResponderFilter{Status: models.ResponderAvailable, Capabilities: []string{}}

	// Ожидания: после исчерпания списка поиск перезапускается один раз со свежими данными
	gomock.InOrder(
		respondersMock.EXPECT().
			FindNearest(gomock.Any(), 55.75, 37.61, 10000.0, filter, 10).
			Return([]*models.ResponderCandidate{stale}, nil),
		respondersMock.EXPECT().
			Reserve(gomock.Any(), stale.ID, models.ResponderAvailable, models.ResponderReserved).
			Return(false, nil),
		respondersMock.EXPECT().
			FindNearest(gomock.Any(), 55.75, 37.61, 10000.0, filter, 10).
			Return([]*models.ResponderCandidate{fresh}, nil),
		respondersMock.EXPECT().
			Reserve(gomock.Any(), fresh.ID, models.ResponderAvailable, models.ResponderReserved).
			Return(true, nil),
	)
	assignmentsMock.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	respondersMock.EXPECT().AdjustLoad(gomock.Any(), fresh.ID, 1).Return(nil).Times(1)

	// Действие
	reservation, err := engine.Allocate(ctx, models.AllocationRequest{
		Kind:         models.KindResponder,
		Latitude:     55.75,
		Longitude:    37.61,
		Priority:     models.PriorityP2,
		Requirements: models.Requirements{Capabilities: []string{}},
	})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, reservation.ResourceID)
}

func TestAllocate_ConflictAfterBothPasses(t *testing.T) {
	// Подготовка
	engine, respondersMock, _, _ := newTestAllocationEngine(t)
	ctx := context.Background()
	filter := models.ResponderFilter{Status: models.ResponderAvailable, Capabilities: []string{}}

	// Ожидания: оба прохода проигрывают все резервы
	respondersMock.EXPECT().
		FindNearest(gomock.Any(), 55.75, 37.61, 10000.0, filter, 10).
		DoAndReturn(func(context.Context, float64, float64, float64, models.ResponderFilter, int) ([]*models.ResponderCandidate, error) {
			return []*models.ResponderCandidate{responderCandidate(2000, 0)}, nil
		}).
		Times(2)
	respondersMock.EXPECT().
		Reserve(gomock.Any(), gomock.Any(), models.ResponderAvailable, models.ResponderReserved).
		Return(false, nil).
		Times(2)

	// Действие
	reservation, err := engine.Allocate(ctx, models.AllocationRequest{
		Kind:         models.KindResponder,
		Latitude:     55.75,
		Longitude:    37.61,
		Priority:     models.PriorityP2,
		Requirements: models.Requirements{Capabilities: []string{}},
	})

	// Проверки
	require.ErrorIs(t, err, ErrReservationConflict)
	assert.Nil(t, reservation)
}

func TestAllocate_HospitalSuccess(t *testing.T) {
	// Подготовка
	engine, _, hospitalsMock, _ := newTestAllocationEngine(t)
	ctx := context.Background()
	hospital := &models.HospitalCandidate{
		Hospital: models.Hospital{
			ID:            uuid.New(),
			Status:        models.HospitalOperational,
			BedsAvailable: 3,
		},
		DistanceMeters: 8000,
	}

	// Ожидания: для больницы стартовый радиус шире, запись назначения не создается
	hospitalsMock.EXPECT().
		FindNearest(gomock.Any(), 55.75, 37.61, 20000.0, models.HospitalFilter{Specialty: "cardiology", MinBeds: 1}, 10).
		Return([]*models.HospitalCandidate{hospital}, nil).
		Times(1)
	hospitalsMock.EXPECT().
		ReserveBed(gomock.Any(), hospital.ID, 1).
		Return(true, nil).
		Times(1)

	// Действие
	reservation, err := engine.Allocate(ctx, models.AllocationRequest{
		Kind:      models.KindHospital,
		Latitude:  55.75,
		Longitude: 37.61,
		Priority:  models.PriorityP1,
		Requirements: models.Requirements{
			Specialty: "cardiology",
			MinBeds:   1,
		},
	})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, hospital.ID, reservation.ResourceID)
	assert.Equal(t, models.KindHospital, reservation.Kind)
	assert.Equal(t, uuid.Nil, reservation.AssignmentID)
	// 8 км при 40 км/ч — 12 минут
	assert.Equal(t, 12, reservation.ETAMinutes)
}

func TestAllocate_InvalidRequirements(t *testing.T) {
	engine, _, _, _ := newTestAllocationEngine(t)
	ctx := context.Background()

	_, err := engine.Allocate(ctx, models.AllocationRequest{Kind: models.ResourceKind("drone")})
	assert.ErrorIs(t, err, ErrInvalidRequirements)

	_, err = engine.Allocate(ctx, models.AllocationRequest{
		Kind:         models.KindHospital,
		Requirements: models.Requirements{MinBeds: -1},
	})
	assert.ErrorIs(t, err, ErrInvalidRequirements)

	_, err = engine.Allocate(ctx, models.AllocationRequest{
		Kind:         models.KindResponder,
		Requirements: models.Requirements{Capabilities: []string{"  "}},
	})
	assert.ErrorIs(t, err, ErrInvalidRequirements)
}

func TestRank_CompositeKey(t *testing.T) {
	a := rankedCandidate{id: uuid.New(), etaMinutes: 6, load: 2, distanceMeters: 4000}
	b := rankedCandidate{id: uuid.New(), etaMinutes: 6, load: 0, distanceMeters: 4200}
	c := rankedCandidate{id: uuid.New(), etaMinutes: 3, load: 5, distanceMeters: 2000}

	// Для P2 первичный ключ — ETA в минутах, затем загрузка
	ranked := rank([]rankedCandidate{a, b, c}, models.PriorityP2)
	assert.Equal(t, c.id, ranked[0].id)
	assert.Equal(t, b.id, ranked[1].id)
	assert.Equal(t, a.id, ranked[2].id)
}

func TestRank_P1WindowPrefersLowerLoad(t *testing.T) {
	near := rankedCandidate{id: uuid.New(), etaMinutes: 3, load: 5, distanceMeters: 2000}
	far := rankedCandidate{id: uuid.New(), etaMinutes: 4, load: 0, distanceMeters: 2700}

	// Для P1 окно разброса ETA шире: менее загруженная бригада выигрывает у чуть более близкой
	ranked := rank([]rankedCandidate{near, far}, models.PriorityP1)
	assert.Equal(t, far.id, ranked[0].id)

	// Для P3 решает точное ETA
	ranked = rank([]rankedCandidate{near, far}, models.PriorityP3)
	assert.Equal(t, near.id, ranked[0].id)
}

func TestRelease_ReturnsResources(t *testing.T) {
	// Подготовка
	engine, respondersMock, hospitalsMock, assignmentsMock := newTestAllocationEngine(t)
	ctx := context.Background()
	hospitalID := uuid.New()
	assignment := &models.Assignment{
		ID:          uuid.New(),
		IncidentID:  uuid.New(),
		ResponderID: uuid.New(),
		HospitalID:  &hospitalID,
		Status:      models.AssignmentDispatched,
	}

	// Ожидания: назначение отменено, бригада возвращена, койка освобождена
	assignmentsMock.EXPECT().UpdateStatus(gomock.Any(), assignment.ID, models.AssignmentCancelled).Return(nil).Times(1)
	respondersMock.EXPECT().UpdateStatus(gomock.Any(), assignment.ResponderID, models.ResponderAvailable).Return(nil).Times(1)
	respondersMock.EXPECT().AdjustLoad(gomock.Any(), assignment.ResponderID, -1).Return(nil).Times(1)
	hospitalsMock.EXPECT().ReleaseBed(gomock.Any(), hospitalID).Return(nil).Times(1)

	// Действие и проверки
	require.NoError(t, engine.Release(ctx, assignment))
}

func TestRelease_TerminalAssignmentIsNoop(t *testing.T) {
	engine, _, _, _ := newTestAllocationEngine(t)

	assert.NoError(t, engine.Release(context.Background(), nil))
	assert.NoError(t, engine.Release(context.Background(), &models.Assignment{Status: models.AssignmentCompleted}))
}

func TestComplete_KeepsHospitalBed(t *testing.T) {
	// Подготовка
	engine, respondersMock, _, assignmentsMock := newTestAllocationEngine(t)
	ctx := context.Background()
	hospitalID := uuid.New()
	assignment := &models.Assignment{
		ID:          uuid.New(),
		ResponderID: uuid.New(),
		HospitalID:  &hospitalID,
		Status:      models.AssignmentEnRoute,
	}

	// Ожидания: бригада освобождена, койка остается занятой — пациент доставлен
	assignmentsMock.EXPECT().UpdateStatus(gomock.Any(), assignment.ID, models.AssignmentCompleted).Return(nil).Times(1)
	respondersMock.EXPECT().UpdateStatus(gomock.Any(), assignment.ResponderID, models.ResponderAvailable).Return(nil).Times(1)
	respondersMock.EXPECT().AdjustLoad(gomock.Any(), assignment.ResponderID, -1).Return(nil).Times(1)

	// Действие и проверки
	require.NoError(t, engine.Complete(ctx, assignment))
}

func TestPriorityGate_P1EntersBeforeWaitingP3(t *testing.T) {
	gate := newPriorityGate()

	gate.enter(models.PriorityP1)

	entered := make(chan struct{})
	go func() {
		gate.enter(models.PriorityP3)
		close(entered)
	}()

	// P3 обязан ждать, пока P1 не покинет ворота
	select {
	case <-entered:
		t.Fatal("P3 entered the gate while P1 was pending")
	case <-time.After(50 * time.Millisecond):
	}

	gate.leave(models.PriorityP1)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("P3 never entered the gate after P1 left")
	}
}
