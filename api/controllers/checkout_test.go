package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubPlacer struct {
	got    *checkoutsvc.Request
	result *checkoutsvc.Result
	err    error
}

func (s *stubPlacer) Checkout(_ context.Context, req checkoutsvc.Request) (*checkoutsvc.Result, error) {
	s.got = &req
	return s.result, s.err
}

func buyerRequest(method, target, body string, userID uuid.UUID, role enums.UserRole) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithActor(req.Context(), userID, role))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestCheckoutHostedReturnsRedirect(t *testing.T) {
	t.Parallel()

	buyerID, addressID, productID := uuid.New(), uuid.New(), uuid.New()
	orderID := uuid.New()
	placer := &stubPlacer{result: &checkoutsvc.Result{
		Order: &models.Order{
			ID:           orderID,
			Subtotal:     decimal.NewFromInt(99),
			Surcharge:    decimal.NewFromInt(1),
			TotalAmount:  decimal.NewFromInt(100),
			Currency:     "usd",
			PaymentState: enums.PaymentStatePending,
		},
		RedirectURL: "https://pay.example/cs_1",
	}}

	body := fmt.Sprintf(`{"address_id":%q,"payment_method":"hosted_payment","items":[{"product_id":%q,"quantity":2}]}`, addressID, productID)
	rec := httptest.NewRecorder()
	Checkout(placer, nil).ServeHTTP(rec, buyerRequest(http.MethodPost, "/api/v1/checkout", body, buyerID, enums.UserRoleBuyer))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, placer.got)
	assert.Equal(t, buyerID, placer.got.BuyerID)
	assert.Equal(t, addressID, placer.got.AddressID)
	assert.Equal(t, enums.PaymentMethodHosted, placer.got.PaymentMethod)
	assert.Equal(t, []checkoutsvc.Item{{ProductID: productID, Quantity: 2}}, placer.got.Items)

	var resp struct {
		Data checkoutResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orderID, resp.Data.OrderID)
	assert.True(t, resp.Data.TotalAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, enums.PaymentStatePending, resp.Data.PaymentState)
	assert.Equal(t, "https://pay.example/cs_1", resp.Data.RedirectURL)
}

func TestCheckoutRejectsInvalidPayloads(t *testing.T) {
	t.Parallel()

	addressID, productID := uuid.New(), uuid.New()
	cases := map[string]string{
		"no items":        fmt.Sprintf(`{"address_id":%q,"payment_method":"cash_on_delivery","items":[]}`, addressID),
		"zero quantity":   fmt.Sprintf(`{"address_id":%q,"payment_method":"cash_on_delivery","items":[{"product_id":%q,"quantity":0}]}`, addressID, productID),
		"unknown method":  fmt.Sprintf(`{"address_id":%q,"payment_method":"barter","items":[{"product_id":%q,"quantity":1}]}`, addressID, productID),
		"missing address": fmt.Sprintf(`{"payment_method":"cash_on_delivery","items":[{"product_id":%q,"quantity":1}]}`, productID),
		"unknown field":   fmt.Sprintf(`{"address_id":%q,"payment_method":"cash_on_delivery","items":[{"product_id":%q,"quantity":1}],"coupon":"x"}`, addressID, productID),
		"malformed":       `{"address_id":`,
	}
	for name, body := range cases {
		placer := &stubPlacer{}
		rec := httptest.NewRecorder()
		Checkout(placer, nil).ServeHTTP(rec, buyerRequest(http.MethodPost, "/api/v1/checkout", body, uuid.New(), enums.UserRoleBuyer))

		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, string(pkgerrors.CodeValidation), decodeError(t, rec), name)
		assert.Nil(t, placer.got, name)
	}
}

func TestCheckoutSurfacesOutOfStock(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	placer := &stubPlacer{err: pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").
		WithDetails(map[string]any{"product_id": productID.String(), "requested": 2, "available": 1})}

	body := fmt.Sprintf(`{"address_id":%q,"payment_method":"cash_on_delivery","items":[{"product_id":%q,"quantity":2}]}`, uuid.New(), productID)
	rec := httptest.NewRecorder()
	Checkout(placer, nil).ServeHTTP(rec, buyerRequest(http.MethodPost, "/api/v1/checkout", body, uuid.New(), enums.UserRoleBuyer))

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OUT_OF_STOCK", resp.Error.Code)
	assert.Equal(t, productID.String(), resp.Error.Details["product_id"])
	assert.EqualValues(t, 1, resp.Error.Details["available"])
}

func TestCheckoutRequiresUser(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`))
	Checkout(&stubPlacer{}, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
