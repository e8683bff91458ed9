package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/logging"
	"github.com/warp/booking-engine/metrics"
	"github.com/warp/booking-engine/store/memory"
)

func newScenarioFixture(t *testing.T) *apiFixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	store := memory.New()
	svc := booking.NewService(store, booking.WithMetrics(metrics.NewBookingMetrics(reg)))

	f := &apiFixture{store: store, verifier: &fakeVerifier{}}
	f.handler = NewHandler(svc, store, nil, logging.Nop())
	f.router = NewRouter(f.handler, RouterConfig{Gatherer: reg})
	return f
}

func TestLoadScenario_BusyDay(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Loading busy-day
	// THEN: The dashboard reflects paid, deposit, refunded and credit-funded bookings

	f := newScenarioFixture(t)
	f.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "busy-day"}, http.StatusOK, nil)

	var d DashboardResponse
	f.do(t, http.MethodGet, "/api/dashboard", nil, http.StatusOK, &d)
	assert.Equal(t, 3, d.Treatments)
	assert.Equal(t, 2, d.Patients)
	assert.Equal(t, 4, d.Appointments)
	assert.Equal(t, 600.0, d.CreditIssued)
	assert.Equal(t, 1225.0, d.TotalEarnings, "450 + 175 deposit + 600 from credit; the refunded booking counts 0")
	assert.Equal(t, 175.0, d.Outstanding)
	assert.Equal(t, 450.0, d.ByMethod["speed_point"])
	assert.Equal(t, 775.0, d.ByMethod["cash"])

	var list ScenarioListResponse
	f.do(t, http.MethodGet, "/api/scenarios", nil, http.StatusOK, &list)
	assert.Equal(t, "busy-day", list.Current)
	assert.Len(t, list.Scenarios, 2)
}

func TestLoadScenario_ReloadContinuesBookingNumbers(t *testing.T) {
	f := newScenarioFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.LoadScenarioByID(ctx, "busy-day"))
	require.NoError(t, f.handler.LoadScenarioByID(ctx, "busy-day"))

	res, err := f.handler.Service.ListAppointments(ctx, booking.AppointmentFilter{IncludeCancelled: true})
	require.NoError(t, err)
	require.Len(t, res.Appointments, 4)
	var numbers []int64
	for _, a := range res.Appointments {
		numbers = append(numbers, a.BookingNumber)
	}
	assert.ElementsMatch(t, []int64{5, 6, 7, 8}, numbers, "a reset never reissues numbers")
}

func TestLoadScenario_Unknown(t *testing.T) {
	f := newScenarioFixture(t)

	var res MessageResponse
	f.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, http.StatusNotFound, &res)
	assert.False(t, res.Success)
}

func TestResetDatabase(t *testing.T) {
	f := newScenarioFixture(t)
	require.NoError(t, f.handler.LoadScenarioByID(context.Background(), "clinic-basics"))

	f.do(t, http.MethodPost, "/api/scenarios/reset", nil, http.StatusOK, nil)

	var d DashboardResponse
	f.do(t, http.MethodGet, "/api/dashboard", nil, http.StatusOK, &d)
	assert.Zero(t, d.Treatments)
	assert.Zero(t, d.Patients)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scenarios", nil))
	assert.NotContains(t, rec.Body.String(), `"current"`)
}
