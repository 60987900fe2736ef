package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"pharma-chain.backend/internal/interfaces/http/handlers"
	"pharma-chain.backend/internal/interfaces/http/middleware"
)

func TestRegisterAPIV1Routes_RegistersRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	registerAPIV1Routes(r, routeDeps{
		batchHandler:   &handlers.BatchHandler{},
		verifyHandler:  &handlers.VerifyHandler{},
		authMiddleware: func(c *gin.Context) { c.Next() },
	})

	expects := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/batches"},
		{"GET", "/api/v1/batches"},
		{"GET", "/api/v1/batches/:id"},
		{"GET", "/api/v1/batches/:id/history"},
		{"GET", "/api/v1/batches/:id/events"},
		{"POST", "/api/v1/batches/:id/transfer"},
		{"PUT", "/api/v1/batches/:id"},
		{"GET", "/api/v1/transfers"},
		{"POST", "/api/v1/qr"},
		{"GET", "/api/v1/qr/:id"},
		{"POST", "/api/v1/verify"},
		{"GET", "/api/v1/verify/:id"},
		{"POST", "/api/v1/metadata/verify"},
		{"GET", "/api/v1/metadata/:id"},
	}

	routes := r.Routes()
	assert.Len(t, routes, len(expects))
	for _, exp := range expects {
		found := false
		for _, route := range routes {
			if route.Method == exp.method && route.Path == exp.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", exp.method, exp.path)
	}
}

func TestRegisterAPIV1Routes_WritesRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerAPIV1Routes(r, routeDeps{
		batchHandler:  &handlers.BatchHandler{},
		verifyHandler: &handlers.VerifyHandler{},
		authMiddleware: func(c *gin.Context) {
			c.AbortWithStatus(http.StatusUnauthorized)
		},
	})

	writes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/batches"},
		{http.MethodPost, "/api/v1/batches/BATCH-001/transfer"},
		{http.MethodPut, "/api/v1/batches/BATCH-001"},
		{http.MethodPost, "/api/v1/qr"},
	}
	for _, w := range writes {
		req := httptest.NewRequest(w.method, w.path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, w.path)
	}
}

func TestRegisterAPIV1Routes_CreateRequiresManufacturer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerAPIV1Routes(r, routeDeps{
		batchHandler:  &handlers.BatchHandler{},
		verifyHandler: &handlers.VerifyHandler{},
		authMiddleware: func(c *gin.Context) {
			c.Set(middleware.RoleKey, "Pharmacy")
			c.Next()
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
