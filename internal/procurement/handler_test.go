package procurement

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/unitstock/internal/inventory"
)

func postAcquisition(t *testing.T, f fixture, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(nil, f.service).MountRoutes(r)
	req := httptest.NewRequest(http.MethodPost, "/acquisitions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestAcquisitionEndpointCreatesUnits(t *testing.T) {
	f := newFixture()
	phone := f.inv.PutProduct(inventory.Product{HasSerial: true})
	body := `{"code":"H-1","supplier_id":"` + uuid.NewString() + `","product_id":"` + phone.ID.String() + `",
"units":[{"serial_number":"H1"},{"serial_number":"H2"}],"unit_cost":"100.10"}`

	rr := postAcquisition(t, f, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var res AcquisitionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Units, 2)
	require.Equal(t, 2, res.Stock)
	require.Equal(t, "200.2", res.Transaction.Total.String())
}

func TestAcquisitionEndpointMapsFailures(t *testing.T) {
	f := newFixture()
	phone := f.inv.PutProduct(inventory.Product{HasSerial: true})
	supplier := uuid.NewString()

	rr := postAcquisition(t, f, `{"code":"H-2","supplier_id":"`+supplier+`"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postAcquisition(t, f, `{"code":"H-3","supplier_id":"`+supplier+`","product_id":"`+uuid.NewString()+`","quantity":1}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = postAcquisition(t, f, `{"code":"H-4","supplier_id":"`+supplier+`","product_id":"`+phone.ID.String()+`","units":[{"serial_number":"Z"},{"serial_number":"z"}]}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Empty(t, f.inv.UnitsOf(phone.ID))

	rr = postAcquisition(t, f, `{"code":"H-5","supplier_id":"`+supplier+`","product_id":"`+phone.ID.String()+`","units":[{"serial_number":"Y"}]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = postAcquisition(t, f, `{"code":"H-5","supplier_id":"`+supplier+`","product_id":"`+phone.ID.String()+`","units":[{"serial_number":"W"}]}`)
	require.Equal(t, http.StatusConflict, rr.Code)
}
