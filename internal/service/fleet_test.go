package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// newTestFleetService — вспомогательная функция для создания сервиса бригад с моками.
func newTestFleetService(t *testing.T) (FleetService, *mocks.MockResponderRepository) {
	ctrl := gomock.NewController(t)
	respondersMock := mocks.NewMockResponderRepository(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	return NewFleetService(respondersMock, logger), respondersMock
}

func TestUpdateResponderStatus_Success(t *testing.T) {
	// Подготовка
	service, respondersMock := newTestFleetService(t)
	ctx := context.Background()
	responderID := uuid.New()

	// Ожидания
	respondersMock.EXPECT().
		UpdateStatus(ctx, responderID, models.ResponderOffline).
		Return(nil).
		Times(1)

	// Действие и проверки
	require.NoError(t, service.UpdateResponderStatus(ctx, responderID, models.ResponderOffline))
}

func TestUpdateResponderStatus_ReservedIsEngineOwned(t *testing.T) {
	// Подготовка
	service, respondersMock := newTestFleetService(t)

	// Ожидания: репозиторий не должен вызываться
	respondersMock.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	// Действие
	err := service.UpdateResponderStatus(context.Background(), uuid.New(), models.ResponderReserved)

	// Проверки
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateResponderLocation_Success(t *testing.T) {
	// Подготовка
	service, respondersMock := newTestFleetService(t)
	ctx := context.Background()
	responderID := uuid.New()

	// Ожидания
	respondersMock.EXPECT().
		UpdateLocation(ctx, responderID, 55.75, 37.61).
		Return(nil).
		Times(1)

	// Действие и проверки
	require.NoError(t, service.UpdateResponderLocation(ctx, responderID, 55.75, 37.61))
}

func TestUpdateResponderLocation_OutOfRange(t *testing.T) {
	service, respondersMock := newTestFleetService(t)

	respondersMock.EXPECT().UpdateLocation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	err := service.UpdateResponderLocation(context.Background(), uuid.New(), 91.0, 37.61)

	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetResponder_Success(t *testing.T) {
	// Подготовка
	service, respondersMock := newTestFleetService(t)
	ctx := context.Background()
	expected := &models.Responder{
		ID:          uuid.New(),
		Name:        "Unit 12",
		VehicleType: "ambulance",
		Status:      models.ResponderAvailable,
	}

	// Ожидания
	respondersMock.EXPECT().GetByID(ctx, expected.ID).Return(expected, nil).Times(1)

	// Действие
	responder, err := service.GetResponder(ctx, expected.ID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expected, responder)
}
