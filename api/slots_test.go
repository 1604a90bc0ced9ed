package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/templeseva/darshan/internal/domain"
)

// MockSlotUseCase is a mock implementation of slots.SlotUseCase
type MockSlotUseCase struct {
	mock.Mock
}

func (m *MockSlotUseCase) CheckAvailability(ctx context.Context, templeID, date string, slot domain.TimeSlot, requested int) (domain.Availability, error) {
	args := m.Called(ctx, templeID, date, slot, requested)
	return args.Get(0).(domain.Availability), args.Error(1)
}

func (m *MockSlotUseCase) ListSlotsForDate(ctx context.Context, templeID, date string) ([]domain.SlotAvailability, error) {
	args := m.Called(ctx, templeID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SlotAvailability), args.Error(1)
}

func TestSlotHandler_list(t *testing.T) {
	mockService := &MockSlotUseCase{}
	handler := NewSlotHandler(mockService, testLogger())
	c, w := newTestContext(http.MethodGet, "/bookings/slots/kashi-vishwanath?date=2026-10-20", nil, "", "")
	c.Params = gin.Params{{Key: "templeId", Value: "kashi-vishwanath"}}

	result := []domain.SlotAvailability{
		{Time: "06:00-08:00", Start: "06:00", End: "08:00", Available: true, RemainingCapacity: 12, Capacity: 50},
		{Time: "08:00-10:00", Start: "08:00", End: "10:00", Available: false, RemainingCapacity: 0, Capacity: 50},
	}
	mockService.On("ListSlotsForDate", mock.Anything, "kashi-vishwanath", "2026-10-20").Return(result, nil)

	handler.list(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response struct {
		TempleID string                    `json:"templeId"`
		Date     string                    `json:"date"`
		Slots    []domain.SlotAvailability `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "kashi-vishwanath", response.TempleID)
	assert.Equal(t, result, response.Slots)

	mockService.AssertExpectations(t)
}

func TestSlotHandler_listRequiresDate(t *testing.T) {
	handler := NewSlotHandler(&MockSlotUseCase{}, testLogger())
	c, w := newTestContext(http.MethodGet, "/bookings/slots/kashi-vishwanath", nil, "", "")
	c.Params = gin.Params{{Key: "templeId", Value: "kashi-vishwanath"}}

	handler.list(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSlotHandler_listBadDate(t *testing.T) {
	mockService := &MockSlotUseCase{}
	handler := NewSlotHandler(mockService, testLogger())
	c, w := newTestContext(http.MethodGet, "/bookings/slots/kashi-vishwanath?date=20-10-2026", nil, "", "")
	c.Params = gin.Params{{Key: "templeId", Value: "kashi-vishwanath"}}
	mockService.On("ListSlotsForDate", mock.Anything, "kashi-vishwanath", "20-10-2026").
		Return(nil, domain.NewValidationError("date", "must be YYYY-MM-DD"))

	handler.list(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Code)
}
